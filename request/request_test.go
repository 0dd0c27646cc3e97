package request

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/replace"
	"github.com/wpmeta/wpmeta/settings"
)

func fieldErrors(t *testing.T, err error) []common.FieldError {
	t.Helper()
	var ve *common.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	return ve.Fields
}

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  plain  ", "plain"},
		{"<b>bold</b> text", "bold text"},
		{"a\tb\n\nc", "a b c"},
		{"100%25 sure", "100 sure"},
		{"nul\x00byte", "nulbyte"},
		{"bad\xffutf8", "badutf8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Text(tt.in), "input %q", tt.in)
	}
}

func TestKeyKeepsPercent(t *testing.T) {
	assert.Equal(t, "discount_%25", Key(" discount_%25 "))
	assert.Equal(t, "seo_title", Key("<i>seo_title</i>"))
	assert.Equal(t, "seotitle", Key("seo\x07title"))
}

func TestValidMetaKey(t *testing.T) {
	assert.True(t, ValidMetaKey("_yoast_wpseo_metadesc"))
	assert.True(t, ValidMetaKey("ключ"))
	assert.False(t, ValidMetaKey(""))
	assert.False(t, ValidMetaKey(strings.Repeat("k", MaxMetaKeyLength+1)))
	assert.False(t, ValidMetaKey("bad\nkey"))
}

func TestSearchPayload(t *testing.T) {
	r := Search{PostType: " page ", MetaKey: "<b>seo_title</b>", Value: "  keep spaces  ", Page: 2}
	r.Sanitize()
	require.NoError(t, r.Validate())

	p := r.Params()
	assert.Equal(t, "page", p.PostType)
	assert.Equal(t, "seo_title", p.MetaKey)
	assert.Equal(t, "  keep spaces  ", p.Value)
	assert.Equal(t, 2, p.Page)

	r = Search{PostType: strings.Repeat("p", 21), Page: -1}
	fields := fieldErrors(t, r.Validate())
	assert.Equal(t, []common.FieldError{
		{Field: "post_type", Message: "must be at most 20"},
		{Field: "page", Message: "must be at least 0"},
	}, fields)
}

func TestReplacePayload(t *testing.T) {
	r := Replace{Mode: " URL ", Find: " old.test ", Replace: "new.test", MetaKey: "link", Confirm: true}
	r.Sanitize()
	require.NoError(t, r.Validate())

	p := r.Params()
	assert.Equal(t, replace.ModeURL, p.Mode)
	assert.Equal(t, " old.test ", p.Find)
	assert.True(t, p.Confirm)

	r = Replace{Mode: "shout"}
	fields := fieldErrors(t, r.Validate())
	assert.Equal(t, []common.FieldError{{Field: "mode", Message: `unknown mode "shout"`}}, fields)

	r = Replace{Mode: "plain", BatchID: "not-a-uuid"}
	fields = fieldErrors(t, r.Validate())
	assert.Equal(t, "batch_id", fields[0].Field)
	assert.Equal(t, "must be a uuid", fields[0].Message)

	r = Replace{}
	fields = fieldErrors(t, r.Validate())
	assert.Equal(t, []common.FieldError{{Field: "mode", Message: "is required"}}, fields)
}

func TestUpdateRowPayload(t *testing.T) {
	r := UpdateRow{PostID: 5, MetaKey: " subtitle ", NewValue: "  spaced\nvalue  "}
	r.Sanitize()
	require.NoError(t, r.Validate())
	assert.Equal(t, "subtitle", r.MetaKey)
	assert.Equal(t, "  spaced\nvalue  ", r.NewValue)

	r = UpdateRow{}
	fields := fieldErrors(t, r.Validate())
	assert.Len(t, fields, 2)
	assert.Equal(t, "post_id", fields[0].Field)
	assert.Equal(t, "meta_key", fields[1].Field)
}

func TestRestorePayload(t *testing.T) {
	r := Restore{RevisionID: 42}
	require.NoError(t, r.Validate())

	r = Restore{PostID: 1, MetaKey: "k"}
	require.NoError(t, r.Validate())

	r = Restore{PostID: 1}
	assert.True(t, common.IsValidation(r.Validate()))

	r = Restore{}
	assert.True(t, common.IsValidation(r.Validate()))
}

func TestLogsAndBatchPayloads(t *testing.T) {
	l := Logs{Level: " WARNING ", Limit: 50}
	l.Sanitize()
	require.NoError(t, l.Validate())
	assert.Equal(t, "warning", string(l.LevelFilter()))

	l = Logs{Level: "debug", Limit: 1000}
	fields := fieldErrors(t, l.Validate())
	assert.Len(t, fields, 2)

	b := RestoreAll{BatchID: " 7c9e6679-7425-40de-944b-e07fc1f90ae7 "}
	b.Sanitize()
	require.NoError(t, b.Validate())
	assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", b.BatchID)

	b = RestoreAll{}
	assert.True(t, common.IsValidation(b.Validate()))
}

func TestSettingsMerge(t *testing.T) {
	empty := Settings{}
	assert.True(t, common.IsValidation(empty.Validate()))

	perPage, retention := 25, 3
	patch := Settings{MaxPerPage: &perPage, BackupRetention: &retention}
	require.NoError(t, patch.Validate())

	merged := patch.Merge(settings.Defaults())
	assert.Equal(t, 25, merged.MaxPerPage)
	assert.Equal(t, 3, merged.BackupRetention)
	assert.Equal(t, settings.Defaults().MaxBulkRows, merged.MaxBulkRows)
	assert.Equal(t, settings.Defaults().AutoCleanupDays, merged.AutoCleanupDays)
}
