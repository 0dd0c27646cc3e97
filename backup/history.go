package backup

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/doug-martin/goqu/v9"

	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/telemetry"
)

// ExcerptLength is the number of characters kept in list excerpts
const ExcerptLength = 100

// Summary is a revision as shown in a backup list
type Summary struct {
	RevisionID id.ID     `json:"revision_id"`
	PostID     uint64    `json:"post_id"`
	MetaKey    string    `json:"meta_key"`
	OldExcerpt string    `json:"old_value"`
	OldLength  int       `json:"old_length"`
	NewExcerpt *string   `json:"new_value"`
	ActorID    uint64    `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	BatchID    string    `json:"batch_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var revisionColumns = []interface{}{
	"revision_id", "post_id", "meta_key", "old_value", "new_value",
	"actor_id", "actor_name", "batch_id", "created_at",
}

// Excerpt truncates s to n characters, marking the cut with an ellipsis
func Excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

func summarize(r Revision) Summary {
	s := Summary{
		RevisionID: r.RevisionID,
		PostID:     r.PostID,
		MetaKey:    r.MetaKey,
		OldExcerpt: Excerpt(r.OldValue, ExcerptLength),
		OldLength:  utf8.RuneCountInString(r.OldValue),
		ActorID:    r.ActorID,
		ActorName:  r.ActorName,
		BatchID:    r.BatchID,
		CreatedAt:  r.CreatedAt,
	}
	if r.NewValue != nil {
		ex := Excerpt(*r.NewValue, ExcerptLength)
		s.NewExcerpt = &ex
	}
	return s
}

// List returns the revisions of a pair, newest first
func (m *Manager) List(ctx context.Context, postID uint64, metaKey string) ([]Summary, error) {
	return cache.Remember(ctx, m.cache, cache.GroupBackups, cache.TTLBackups, func() ([]Summary, error) {
		var revs []Revision
		err := m.db.Q().From(m.table()).
			Select(revisionColumns...).
			Where(goqu.Ex{"post_id": postID, "meta_key": metaKey}).
			Order(goqu.C("created_at").Desc(), goqu.C("revision_id").Desc()).
			ScanStructsContext(ctx, &revs)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups for %d/%s: %w", postID, metaKey, err)
		}

		out := make([]Summary, len(revs))
		for i, r := range revs {
			out[i] = summarize(r)
		}
		return out, nil
	}, postID, metaKey)
}

// Get returns one revision with full values
func (m *Manager) Get(ctx context.Context, revisionID id.ID) (Revision, error) {
	var rev Revision
	found, err := m.db.Q().From(m.table()).
		Select(revisionColumns...).
		Where(goqu.Ex{"revision_id": uint64(revisionID)}).
		ScanStructContext(ctx, &rev)
	if err != nil {
		return Revision{}, fmt.Errorf("failed to read revision %d: %w", revisionID, err)
	}
	if !found {
		return Revision{}, fmt.Errorf("revision %d: %w", revisionID, common.ErrNotFound)
	}
	return rev, nil
}

// Latest returns the newest revision of a pair
func (m *Manager) Latest(ctx context.Context, postID uint64, metaKey string) (Revision, error) {
	var rev Revision
	found, err := m.db.Q().From(m.table()).
		Select(revisionColumns...).
		Where(goqu.Ex{"post_id": postID, "meta_key": metaKey}).
		Order(goqu.C("created_at").Desc(), goqu.C("revision_id").Desc()).
		Limit(1).
		ScanStructContext(ctx, &rev)
	if err != nil {
		return Revision{}, fmt.Errorf("failed to read latest revision of %d/%s: %w", postID, metaKey, err)
	}
	if !found {
		return Revision{}, fmt.Errorf("no backups for %d/%s: %w", postID, metaKey, common.ErrNotFound)
	}
	return rev, nil
}

// Counts returns the number of revisions for each of keys that has any
func (m *Manager) Counts(ctx context.Context, keys []Key) (map[Key]int, error) {
	out := make(map[Key]int, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	postIDs := make([]uint64, 0, len(keys))
	metaKeys := make([]string, 0, len(keys))
	seenPost := make(map[uint64]bool)
	seenKey := make(map[string]bool)
	wanted := make(map[Key]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
		if !seenPost[k.PostID] {
			seenPost[k.PostID] = true
			postIDs = append(postIDs, k.PostID)
		}
		if !seenKey[k.MetaKey] {
			seenKey[k.MetaKey] = true
			metaKeys = append(metaKeys, k.MetaKey)
		}
	}

	var rows []struct {
		PostID  uint64 `db:"post_id"`
		MetaKey string `db:"meta_key"`
		Total   int    `db:"total"`
	}
	err := m.db.Q().From(m.table()).
		Select("post_id", "meta_key", goqu.COUNT("*").As("total")).
		Where(goqu.Ex{"post_id": postIDs, "meta_key": metaKeys}).
		GroupBy("post_id", "meta_key").
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to count backups: %w", err)
	}

	for _, r := range rows {
		k := Key{PostID: r.PostID, MetaKey: r.MetaKey}
		if wanted[k] {
			out[k] = r.Total
		}
	}
	return out, nil
}

// Cleanup deletes every revision created before olderThan, regardless of retention
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := m.db.Q().Delete(m.table()).
		Where(goqu.C("created_at").Lt(olderThan.UTC())).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up backups: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		telemetry.BackupsPrunedTotal.With("age").Add(float64(n))
		m.cache.InvalidateGroup(ctx, cache.GroupBackups, cache.GroupSearch)
	}
	return n, nil
}
