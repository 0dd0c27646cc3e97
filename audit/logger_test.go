package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/db"
)

func newLogger(t *testing.T) (*Logger, *db.Store, *bytes.Buffer) {
	t.Helper()
	store := db.NewTestStore(t)
	buf := &bytes.Buffer{}
	return New(store, zerolog.New(buf)), store, buf
}

func TestLogStoresAndMirrors(t *testing.T) {
	l, _, buf := newLogger(t)
	ctx := actor.WithActor(context.Background(), actor.Actor{ID: 7, Name: "editor", IP: "10.0.0.1"})

	l.Info(ctx, "replace", "Bulk replace finished", map[string]interface{}{"updated": 3})

	entries, err := l.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, LevelInfo, e.Level)
	assert.Equal(t, "replace", e.Action)
	assert.Equal(t, "Bulk replace finished", e.Message)
	assert.Equal(t, uint64(7), e.UserID)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.Equal(t, float64(3), e.Context["updated"])

	var mirrored map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &mirrored))
	assert.Equal(t, "info", mirrored["level"])
	assert.Equal(t, "replace", mirrored["action"])
	assert.Equal(t, "editor", mirrored["user"])
}

func TestRecentFiltersAndOrders(t *testing.T) {
	l, _, _ := newLogger(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, level := range []Level{LevelInfo, LevelError, LevelWarning, LevelError} {
		at := base.Add(time.Duration(i) * time.Minute)
		l.now = func() time.Time { return at }
		l.Log(ctx, level, "search", string(level), nil)
	}

	all, err := l.Recent(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, LevelError, all[0].Level, "newest first")
	assert.Equal(t, LevelInfo, all[3].Level)

	errorsOnly, err := l.Recent(ctx, 10, LevelError)
	require.NoError(t, err)
	assert.Len(t, errorsOnly, 2)

	limited, err := l.Recent(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLogFallsBackWhenTableMissing(t *testing.T) {
	l, store, buf := newLogger(t)
	_, err := store.SQL().Exec("DROP TABLE wp_wpmeta_logs")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.Error(context.Background(), "restore", "Restore failed", map[string]interface{}{"revision_id": 1})
	})
	assert.Contains(t, buf.String(), "Restore failed")
}

func TestCleanup(t *testing.T) {
	l, store, _ := newLogger(t)
	ctx := context.Background()

	now := time.Now().UTC()
	l.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	l.Info(ctx, "search", "old", nil)
	l.now = func() time.Time { return now }
	l.Info(ctx, "search", "new", nil)

	n, err := l.Cleanup(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), store.CountRows(t, db.TableLogs))
}
