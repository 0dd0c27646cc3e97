package replace

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/audit"
	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/db"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/search"
	"github.com/wpmeta/wpmeta/settings"
)

type fixture struct {
	store    *db.Store
	settings *settings.Store
	backups  *backup.Manager
	logger   *audit.Logger
	engine   *Engine
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewTestStore(t)
	c := cache.New(cache.NewMemory(256), "test")
	st := settings.New(store, c)
	backups := backup.New(store, c, st, id.NewClockGenerator(1), nil)
	searcher := search.New(store, c, backups, st, cfg.SearchConfiguration{
		ExcludedPostTypes: cfg.DefaultExcludedPostTypes,
		MetaKeysLimit:     50,
		DefaultPerPage:    20,
	})
	logger := audit.New(store, zerolog.Nop())

	return &fixture{
		store:    store,
		settings: st,
		backups:  backups,
		logger:   logger,
		engine: New(searcher, backups, st, c, logger, cfg.ReplaceConfiguration{
			RegexTimeoutMS: 1000,
			DefaultLimit:   1000,
			HardMaxRows:    5000,
		}),
		ctx: actor.WithActor(context.Background(), actor.Actor{ID: 3, Name: "author", IP: "10.0.0.9"}),
	}
}

func TestExecuteURLReplaceOnMatchingRows(t *testing.T) {
	f := newFixture(t)
	values := []string{
		"Visit old-domain.com for more",
		"https://old-domain.com/about",
		`{"canonical":"https:\/\/old-domain.com\/"}`,
	}
	var posts []uint64
	for _, v := range values {
		p := f.store.SeedPost(t, "Page", "page")
		f.store.SeedMeta(t, p, "seo_description", v)
		posts = append(posts, p)
	}
	other := f.store.SeedPost(t, "Other", "page")
	f.store.SeedMeta(t, other, "seo_description", "unrelated")

	found, err := f.engine.search.Search(f.ctx, search.Params{MetaKey: "seo_description", Value: "old-domain.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), found.Total)

	res, err := f.engine.Execute(f.ctx, Params{
		Mode:    ModeURL,
		Find:    "old-domain.com",
		Replace: "new-domain.com",
		MetaKey: "seo_description",
		Confirm: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 0, res.Failed)
	assert.NotEmpty(t, res.BatchID)
	require.Len(t, res.Items, 3)

	for i, p := range posts {
		assert.NotContains(t, f.store.MustMeta(t, p, "seo_description"), "old-domain.com")

		revs, err := f.backups.List(f.ctx, p, "seo_description")
		require.NoError(t, err)
		require.Len(t, revs, 1)
		assert.Equal(t, values[i], revs[0].OldExcerpt)

		rev, err := f.backups.Latest(f.ctx, p, "seo_description")
		require.NoError(t, err)
		assert.Equal(t, values[i], rev.OldValue)
		assert.Contains(t, rev.OldValue, "old-domain.com")
		assert.Equal(t, res.BatchID, rev.BatchID)
		assert.Equal(t, "author", rev.ActorName)
	}
	assert.Equal(t, "https://new-domain.com/about", f.store.MustMeta(t, posts[1], "seo_description"))
	assert.Equal(t, `{"canonical":"https:\/\/new-domain.com\/"}`, f.store.MustMeta(t, posts[2], "seo_description"))
	assert.Equal(t, "unrelated", f.store.MustMeta(t, other, "seo_description"))

	// the whole batch restores in one call
	restored, err := f.backups.RestoreBatch(f.ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Restored)
	for i, p := range posts {
		assert.Equal(t, values[i], f.store.MustMeta(t, p, "seo_description"))
	}
}

func TestExecuteRequiresConfirm(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "k", "foo")

	_, err := f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "foo", Replace: "bar"})
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.True(t, common.IsValidation(err))
	assert.Equal(t, "foo", f.store.MustMeta(t, p, "k"))
	assert.Equal(t, int64(0), f.store.CountRows(t, db.TableRevisions))
}

func TestExecuteCaseSensitivity(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "k", "FooBar")

	res, err := f.engine.Execute(f.ctx, Params{Mode: ModePlainCS, Find: "foo", Replace: "baz", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, "FooBar", f.store.MustMeta(t, p, "k"))

	res, err = f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "foo", Replace: "baz", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "bazBar", f.store.MustMeta(t, p, "k"))
}

func TestExecuteSkipsUnchangedRows(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "a", "same")
	f.store.SeedMeta(t, p, "b", "old")

	res, err := f.engine.Execute(f.ctx, Params{Mode: ModeFullText, MetaKey: "a", Replace: "same", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, int64(0), f.store.CountRows(t, db.TableRevisions))

	res, err = f.engine.Execute(f.ctx, Params{Mode: ModeFullText, MetaKey: "b", Find: "ignored", Replace: "new", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "new", f.store.MustMeta(t, p, "b"))
}

func TestExecuteRespectsLimits(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		p := f.store.SeedPost(t, "P", "post")
		f.store.SeedMeta(t, p, "k", "foo")
	}

	res, err := f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "foo", Replace: "bar", Limit: 2, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)

	s := settings.Defaults()
	s.MaxBulkRows = 3
	_, err = f.settings.Save(f.ctx, s)
	require.NoError(t, err)

	res, err = f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "foo", Replace: "bar", Limit: 100, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)

	limit, err := f.engine.limit(f.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, limit)
}

func TestExecuteRecordsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	big := f.store.SeedPost(t, "Big", "post")
	small := f.store.SeedPost(t, "Small", "post")
	f.store.SeedMeta(t, big, "k", strings.Repeat("ab", 1<<21)+"c")
	f.store.SeedMeta(t, small, "k", "abc")

	f.engine.conf.RegexTimeoutMS = 1

	res, err := f.engine.Execute(f.ctx, Params{Mode: ModeRegex, Find: "(a|b)+c", Replace: "x", CaseSensitive: true, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 2)
	assert.Equal(t, StatusFailed, res.Items[0].Status)
	assert.Equal(t, ErrRegexTimeout.Error(), res.Items[0].Error)
	assert.Equal(t, StatusUpdated, res.Items[1].Status)
	assert.Equal(t, "x", f.store.MustMeta(t, small, "k"))

	entries, err := f.logger.Recent(f.ctx, 1, audit.LevelWarning)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "replace", entries[0].Action)
	assert.Equal(t, res.BatchID, entries[0].Context["batch_id"])
}

func TestExecuteBackupFailureOnlyFailsItsRow(t *testing.T) {
	f := newFixture(t)
	var posts []uint64
	for i := 0; i < 3; i++ {
		p := f.store.SeedPost(t, "P", "post")
		f.store.SeedMeta(t, p, "k", "foo")
		posts = append(posts, p)
	}

	trigger := fmt.Sprintf("CREATE TRIGGER reject_backup BEFORE INSERT ON %s WHEN NEW.post_id = %d BEGIN SELECT RAISE(ABORT, 'backup rejected'); END",
		f.store.Table(db.TableRevisions), posts[1])
	_, err := f.store.SQL().Exec(trigger)
	require.NoError(t, err)

	res, err := f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "foo", Replace: "bar", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 3)
	assert.Equal(t, StatusUpdated, res.Items[0].Status)
	assert.Equal(t, StatusFailed, res.Items[1].Status)
	assert.Contains(t, res.Items[1].Error, "backup rejected")
	assert.Equal(t, StatusUpdated, res.Items[2].Status)

	assert.Equal(t, "bar", f.store.MustMeta(t, posts[0], "k"))
	assert.Equal(t, "foo", f.store.MustMeta(t, posts[1], "k"), "failed backup must not write the row")
	assert.Equal(t, "bar", f.store.MustMeta(t, posts[2], "k"))
	assert.Equal(t, int64(2), f.store.CountRows(t, db.TableRevisions))
}

func TestExecuteDuplicateMetaRows(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "links", "first")
	f.store.SeedMeta(t, p, "links", "see old-domain.com")

	res, err := f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "old-domain.com", Replace: "new-domain.com", MetaKey: "links", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, []string{"first", "see new-domain.com"}, f.store.MetaValues(t, p, "links"))

	rev, err := f.backups.Latest(f.ctx, p, "links")
	require.NoError(t, err)
	assert.Equal(t, "see old-domain.com", rev.OldValue)
	require.NotNil(t, rev.NewValue)
	assert.Equal(t, "see new-domain.com", *rev.NewValue)

	// both rows match: each is rewritten from its own value
	f.store.SeedMeta(t, p, "tags", "old a")
	f.store.SeedMeta(t, p, "tags", "old b")
	res, err = f.engine.Execute(f.ctx, Params{Mode: ModePlain, Find: "old", Replace: "new", MetaKey: "tags", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, []string{"new a", "new b"}, f.store.MetaValues(t, p, "tags"))
}

func TestPreviewDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "Hello", "post")
	f.store.SeedMeta(t, p, "a", "price 10")
	f.store.SeedMeta(t, p, "b", "no digits")

	res, err := f.engine.Preview(f.ctx, Params{Mode: ModeRegex, Find: `(\d+)`, Replace: "[$1]"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, PreviewRow{
		PostID:    p,
		PostTitle: "Hello",
		PostType:  "post",
		MetaKey:   "a",
		OldValue:  "price 10",
		NewValue:  "price [10]",
	}, res.Rows[0])

	assert.Equal(t, "price 10", f.store.MustMeta(t, p, "a"))
	assert.Equal(t, int64(0), f.store.CountRows(t, db.TableRevisions))
}

func TestPreviewInvalidRegexHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "a", "abc")

	_, err := f.engine.Preview(f.ctx, Params{Mode: ModeRegex, Find: "([a-", Replace: "x"})
	assert.True(t, common.IsValidation(err))
	assert.Equal(t, "abc", f.store.MustMeta(t, p, "a"))
	assert.Equal(t, int64(0), f.store.CountRows(t, db.TableRevisions))
}

func TestPreviewCacheFlushedByExecute(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "a", "foo")

	params := Params{Mode: ModePlain, Find: "foo", Replace: "bar"}
	res, err := f.engine.Preview(f.ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	params.Confirm = true
	_, err = f.engine.Execute(f.ctx, params)
	require.NoError(t, err)

	res, err = f.engine.Preview(f.ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}

func TestUpdateRow(t *testing.T) {
	f := newFixture(t)
	p := f.store.SeedPost(t, "P", "post")
	f.store.SeedMeta(t, p, "subtitle", "before")

	applied, err := f.engine.UpdateRow(f.ctx, p, "subtitle", "after")
	require.NoError(t, err)
	assert.Equal(t, "after", f.store.MustMeta(t, p, "subtitle"))
	assert.Equal(t, "before", applied.Revision.OldValue)

	_, err = f.engine.UpdateRow(f.ctx, 4242, "subtitle", "x")
	assert.ErrorIs(t, err, common.ErrNotFound)

	entries, err := f.logger.Recent(f.ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.LevelError, entries[0].Level)
	assert.Equal(t, "update_row", entries[0].Action)
	assert.Equal(t, uint64(3), entries[1].UserID)
}
