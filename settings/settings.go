// Package settings persists the tunable limits of wpmeta in wp_options.
package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/db"
)

// OptionName is the wp_options row holding the settings document
const OptionName = "wpmeta_settings"

var validate = common.NewValidator()

// Settings are the administrator-tunable limits
type Settings struct {
	MaxPerPage      int `json:"max_per_page" validate:"min=1,max=500"`
	MaxBulkRows     int `json:"max_bulk_rows" validate:"min=1,max=5000"`
	BackupRetention int `json:"backup_retention" validate:"min=1,max=100"`
	AutoCleanupDays int `json:"auto_cleanup_days" validate:"min=1,max=3650"`
}

// Defaults returns the settings used until an administrator saves others
func Defaults() Settings {
	return Settings{
		MaxPerPage:      100,
		MaxBulkRows:     1000,
		BackupRetention: 10,
		AutoCleanupDays: 30,
	}
}

// Validate checks every field against its bounds
func (s Settings) Validate() error {
	return common.FromValidator(validate.Struct(s))
}

// Store reads and writes settings
type Store struct {
	db    *db.Store
	cache *cache.Manager
}

// New creates a settings store
func New(store *db.Store, c *cache.Manager) *Store {
	return &Store{db: store, cache: c}
}

// Get returns the stored settings merged onto the defaults. Stored fields
// that are out of bounds fall back to their default.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	return cache.Remember(ctx, s.cache, cache.GroupSettings, cache.TTLSettings, func() (Settings, error) {
		return s.load(ctx)
	}, OptionName)
}

func (s *Store) load(ctx context.Context) (Settings, error) {
	defaults := Defaults()

	raw, found, err := s.db.GetOption(ctx, nil, OptionName)
	if err != nil {
		return defaults, err
	}
	if !found {
		return defaults, nil
	}

	stored := defaults
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Warn().Err(err).Str("option", OptionName).Msg("Stored settings are not valid JSON, using defaults")
		return defaults, nil
	}

	return sanitize(stored, defaults), nil
}

// sanitize resets each out-of-bounds field to its default
func sanitize(s, defaults Settings) Settings {
	clamp := func(v, lo, hi, def int) int {
		if v < lo || v > hi {
			return def
		}
		return v
	}
	return Settings{
		MaxPerPage:      clamp(s.MaxPerPage, 1, 500, defaults.MaxPerPage),
		MaxBulkRows:     clamp(s.MaxBulkRows, 1, 5000, defaults.MaxBulkRows),
		BackupRetention: clamp(s.BackupRetention, 1, 100, defaults.BackupRetention),
		AutoCleanupDays: clamp(s.AutoCleanupDays, 1, 3650, defaults.AutoCleanupDays),
	}
}

// Save validates and stores settings, returning what was stored
func (s *Store) Save(ctx context.Context, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := s.db.SetOption(ctx, nil, OptionName, string(raw), false); err != nil {
		return Settings{}, err
	}

	s.cache.InvalidateGroup(ctx, cache.GroupSettings)
	log.Info().Interface("settings", next).Msg("Settings saved")
	return next, nil
}
