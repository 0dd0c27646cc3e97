// Package request decodes, sanitizes and validates admin action payloads.
package request

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/wpmeta/wpmeta/audit"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/replace"
	"github.com/wpmeta/wpmeta/search"
	"github.com/wpmeta/wpmeta/settings"
)

// MaxMetaKeyLength matches the meta_key column of wp_postmeta
const MaxMetaKeyLength = 255

var validate = newValidator()

func newValidator() *validator.Validate {
	v := common.NewValidator()
	v.RegisterValidation("metakey", func(fl validator.FieldLevel) bool {
		return ValidMetaKey(fl.Field().String())
	})
	v.RegisterValidation("replacemode", func(fl validator.FieldLevel) bool {
		return replace.Mode(fl.Field().String()).Valid()
	})
	return v
}

// ValidMetaKey reports whether key fits the meta_key column and has no control characters
func ValidMetaKey(key string) bool {
	if key == "" || len(key) > MaxMetaKeyLength || !utf8.ValidString(key) {
		return false
	}
	return strings.IndexFunc(key, unicode.IsControl) < 0
}

// Payload is a decoded action request
type Payload interface {
	Sanitize()
	Validate() error
}

// check validates v against its struct tags
func check(v interface{}) error {
	return common.FromValidator(validate.Struct(v))
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	octetPattern      = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
	whitespacePattern = regexp.MustCompile(`[\s]+`)
)

// Text cleans a single-line field the way WordPress' sanitize_text_field
// does: tags, percent-encoded octets and control characters are removed,
// whitespace runs collapse to one space and the result is trimmed.
func Text(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = tagPattern.ReplaceAllString(s, "")
	s = octetPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Key cleans an identifier such as a meta key or post type. Unlike Text it
// keeps percent signs, which are legal in meta keys.
func Key(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Search is the payload of the search action
type Search struct {
	PostType      string `json:"post_type" validate:"max=20"`
	MetaKey       string `json:"meta_key" validate:"omitempty,metakey"`
	Value         string `json:"value" validate:"max=65535"`
	CaseSensitive bool   `json:"case_sensitive"`
	Regex         bool   `json:"regex"`
	Page          int    `json:"page" validate:"min=0"`
	PerPage       int    `json:"per_page" validate:"min=0"`
}

// Sanitize cleans identifier fields. The value keeps its whitespace.
func (r *Search) Sanitize() {
	r.PostType = Key(r.PostType)
	r.MetaKey = Key(r.MetaKey)
}

// Validate checks the sanitized payload
func (r *Search) Validate() error {
	return check(r)
}

// Params converts the payload to search criteria
func (r Search) Params() search.Params {
	return search.Params{
		PostType:      r.PostType,
		MetaKey:       r.MetaKey,
		Value:         r.Value,
		CaseSensitive: r.CaseSensitive,
		Regex:         r.Regex,
		Page:          r.Page,
		PerPage:       r.PerPage,
	}
}

// Replace is the payload of the preview and replace actions
type Replace struct {
	Find          string `json:"find" validate:"max=65535"`
	Replace       string `json:"replace" validate:"max=65535"`
	Mode          string `json:"mode" validate:"required,replacemode"`
	MetaKey       string `json:"meta_key" validate:"omitempty,metakey"`
	PostType      string `json:"post_type" validate:"max=20"`
	ValueFilter   string `json:"value_filter" validate:"max=65535"`
	CaseSensitive bool   `json:"case_sensitive"`
	Limit         int    `json:"limit" validate:"min=0"`
	Confirm       bool   `json:"confirm"`
	BatchID       string `json:"batch_id" validate:"omitempty,uuid"`
}

// Sanitize cleans identifier fields. Find, replace and the value filter keep their whitespace.
func (r *Replace) Sanitize() {
	r.Mode = strings.ToLower(Key(r.Mode))
	r.MetaKey = Key(r.MetaKey)
	r.PostType = Key(r.PostType)
	r.BatchID = Text(r.BatchID)
}

// Validate checks the sanitized payload
func (r *Replace) Validate() error {
	return check(r)
}

// Params converts the payload to replace parameters
func (r Replace) Params() replace.Params {
	return replace.Params{
		Find:          r.Find,
		Replace:       r.Replace,
		Mode:          replace.Mode(r.Mode),
		MetaKey:       r.MetaKey,
		PostType:      r.PostType,
		ValueFilter:   r.ValueFilter,
		CaseSensitive: r.CaseSensitive,
		Limit:         r.Limit,
		Confirm:       r.Confirm,
		BatchID:       r.BatchID,
	}
}

// UpdateRow is the payload of the update_row action
type UpdateRow struct {
	PostID   uint64 `json:"post_id" validate:"required"`
	MetaKey  string `json:"meta_key" validate:"required,metakey"`
	NewValue string `json:"new_value"`
}

// Sanitize cleans the meta key. The new value is stored verbatim.
func (r *UpdateRow) Sanitize() {
	r.MetaKey = Key(r.MetaKey)
}

func (r *UpdateRow) Validate() error {
	return check(r)
}

// MetaKeys is the payload of the get_meta_keys action
type MetaKeys struct {
	PostType string `json:"post_type" validate:"max=20"`
}

// Sanitize cleans the post type
func (r *MetaKeys) Sanitize() {
	r.PostType = Key(r.PostType)
}

func (r *MetaKeys) Validate() error {
	return check(r)
}

// Pair addresses the revisions of one (post, meta key) pair
type Pair struct {
	PostID  uint64 `json:"post_id" validate:"required"`
	MetaKey string `json:"meta_key" validate:"required,metakey"`
}

// Sanitize cleans the meta key
func (r *Pair) Sanitize() {
	r.MetaKey = Key(r.MetaKey)
}

func (r *Pair) Validate() error {
	return check(r)
}

// Restore is the payload of the restore action: a revision id, or a pair
// whose latest revision is restored
type Restore struct {
	RevisionID id.ID  `json:"revision_id"`
	PostID     uint64 `json:"post_id"`
	MetaKey    string `json:"meta_key" validate:"omitempty,metakey"`
}

// Sanitize cleans the meta key
func (r *Restore) Sanitize() {
	r.MetaKey = Key(r.MetaKey)
}

// Validate requires a revision id or a complete pair
func (r *Restore) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	if r.RevisionID == 0 && (r.PostID == 0 || r.MetaKey == "") {
		return common.Invalid("revision_id", "revision_id or post_id and meta_key are required")
	}
	return nil
}

// RestoreAll is the payload of the restore_all action
type RestoreAll struct {
	BatchID string `json:"batch_id" validate:"required,max=64"`
}

// Sanitize cleans the batch id
func (r *RestoreAll) Sanitize() {
	r.BatchID = Text(r.BatchID)
}

func (r *RestoreAll) Validate() error {
	return check(r)
}

// Logs is the payload of the get_logs action
type Logs struct {
	Limit int    `json:"limit" validate:"min=0,max=500"`
	Level string `json:"level" validate:"omitempty,oneof=info warning error"`
}

// Sanitize cleans the level
func (r *Logs) Sanitize() {
	r.Level = strings.ToLower(Text(r.Level))
}

func (r *Logs) Validate() error {
	return check(r)
}

// LevelFilter returns the level as an audit level
func (r Logs) LevelFilter() audit.Level {
	return audit.Level(r.Level)
}

// Settings is the payload of the save_settings action. Omitted fields keep
// their current value; bounds are enforced by settings.Settings.Validate.
type Settings struct {
	MaxPerPage      *int `json:"max_per_page"`
	MaxBulkRows     *int `json:"max_bulk_rows"`
	BackupRetention *int `json:"backup_retention"`
	AutoCleanupDays *int `json:"auto_cleanup_days"`
}

func (r *Settings) Sanitize() {}

func (r *Settings) Validate() error {
	if r.MaxPerPage == nil && r.MaxBulkRows == nil && r.BackupRetention == nil && r.AutoCleanupDays == nil {
		return common.Invalid("", "at least one setting is required")
	}
	return nil
}

// Merge overlays the provided fields onto current
func (r Settings) Merge(current settings.Settings) settings.Settings {
	if r.MaxPerPage != nil {
		current.MaxPerPage = *r.MaxPerPage
	}
	if r.MaxBulkRows != nil {
		current.MaxBulkRows = *r.MaxBulkRows
	}
	if r.BackupRetention != nil {
		current.BackupRetention = *r.BackupRetention
	}
	if r.AutoCleanupDays != nil {
		current.AutoCleanupDays = *r.AutoCleanupDays
	}
	return current
}

// Nonce is the payload of the nonce endpoint
type Nonce struct {
	Action string `json:"action" validate:"required,max=64"`
}

// Sanitize cleans the action name
func (r *Nonce) Sanitize() {
	r.Action = Key(r.Action)
}

func (r *Nonce) Validate() error {
	return check(r)
}
