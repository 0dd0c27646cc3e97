// Package backup keeps an append-only revision history of post meta values.
// Every meta write goes through Manager.Apply, which stores the prior value
// as a revision and writes the new value in one transaction.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/db"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/publisher"
	"github.com/wpmeta/wpmeta/settings"
	"github.com/wpmeta/wpmeta/telemetry"
)

// ErrConflict is returned by Apply when the live value no longer matches Change.Expected
var ErrConflict = errors.New("meta value changed since it was read")

// Revision is one stored backup of a meta value
type Revision struct {
	RevisionID id.ID     `json:"revision_id" db:"revision_id"`
	PostID     uint64    `json:"post_id" db:"post_id"`
	MetaKey    string    `json:"meta_key" db:"meta_key"`
	OldValue   string    `json:"old_value" db:"old_value"`
	NewValue   *string   `json:"new_value" db:"new_value"` // nil for manual snapshots
	ActorID    uint64    `json:"actor_id" db:"actor_id"`
	ActorName  string    `json:"actor_name" db:"actor_name"`
	BatchID    string    `json:"batch_id,omitempty" db:"batch_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Key identifies a (post, meta key) pair
type Key struct {
	PostID  uint64
	MetaKey string
}

// Change is a requested meta write
type Change struct {
	MetaID   uint64 // when set, only this row of the key is read and written
	PostID   uint64
	MetaKey  string
	NewValue string
	BatchID  string
	Expected *string // when set, the live value must still equal it
	Restore  bool    // write restores an older revision
}

// Applied describes a committed change
type Applied struct {
	Revision Revision // backup of the value that was replaced
	PostType string
	Created  bool // the meta row did not exist before
}

// EventSink receives committed changes. *publisher.Registry implements it.
type EventSink interface {
	Publish(ev publisher.ChangeEvent) error
}

// Manager creates, lists and restores revisions
type Manager struct {
	db       *db.Store
	cache    *cache.Manager
	settings *settings.Store
	ids      id.Generator
	events   EventSink
	now      func() time.Time
}

// New creates a manager. events may be nil when no change sinks are configured.
func New(store *db.Store, c *cache.Manager, st *settings.Store, ids id.Generator, events EventSink) *Manager {
	return &Manager{
		db:       store,
		cache:    c,
		settings: st,
		ids:      ids,
		events:   events,
		now:      time.Now,
	}
}

func (m *Manager) table() string {
	return m.db.Table(db.TableRevisions)
}

func (m *Manager) retention(ctx context.Context) int {
	s, err := m.settings.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using default backup retention")
		return settings.Defaults().BackupRetention
	}
	return s.BackupRetention
}

// Apply backs up the live value of ch's meta key and writes ch.NewValue in a
// single transaction. Retention is enforced before commit.
func (m *Manager) Apply(ctx context.Context, ch Change) (Applied, error) {
	keep := m.retention(ctx)
	a := actor.FromContext(ctx)

	var out Applied
	err := m.db.WithTx(ctx, func(q db.Querier) error {
		live, err := m.live(ctx, q, ch)
		if err != nil {
			return err
		}
		if ch.Expected != nil && live.Value != *ch.Expected {
			return ErrConflict
		}

		newValue := ch.NewValue
		rev, err := m.insert(ctx, q, a, ch.PostID, ch.MetaKey, live.Value, &newValue, ch.BatchID)
		if err != nil {
			return err
		}

		if ch.MetaID != 0 {
			err = m.db.SetMetaByID(ctx, q, ch.MetaID, ch.NewValue)
		} else {
			err = m.db.SetMeta(ctx, q, ch.PostID, ch.MetaKey, ch.NewValue, live.Exists)
		}
		if err != nil {
			return err
		}

		if err := m.trim(ctx, q, ch.PostID, ch.MetaKey, keep); err != nil {
			return err
		}

		out = Applied{Revision: rev, PostType: live.PostType, Created: !live.Exists}
		return nil
	})
	if err != nil {
		telemetry.MetaWritesTotal.With("failed").Inc()
		return Applied{}, err
	}

	telemetry.MetaWritesTotal.With("committed").Inc()
	telemetry.BackupsCreatedTotal.Inc()

	m.cache.Delete(ctx, cache.GroupBackups, ch.PostID, ch.MetaKey)
	groups := []string{cache.GroupSearch, cache.GroupPreview}
	if out.Created {
		groups = append(groups, cache.GroupMetaKeys)
	}
	m.cache.InvalidateGroup(ctx, groups...)

	m.publish(ch, out, a)
	return out, nil
}

func (m *Manager) live(ctx context.Context, q db.Querier, ch Change) (db.LiveMeta, error) {
	if ch.MetaID != 0 {
		return m.db.GetMetaByID(ctx, q, ch.MetaID, ch.PostID, ch.MetaKey)
	}
	return m.db.GetMeta(ctx, q, ch.PostID, ch.MetaKey)
}

func (m *Manager) publish(ch Change, out Applied, a actor.Actor) {
	if m.events == nil {
		return
	}

	op := publisher.OpUpdate
	switch {
	case ch.Restore:
		op = publisher.OpRestore
	case out.Created:
		op = publisher.OpInsert
	}

	ev := publisher.ChangeEvent{
		RevisionID: uint64(out.Revision.RevisionID),
		BatchID:    ch.BatchID,
		PostID:     ch.PostID,
		PostType:   out.PostType,
		MetaKey:    ch.MetaKey,
		Operation:  op,
		OldValue:   out.Revision.OldValue,
		NewValue:   ch.NewValue,
		ActorID:    a.ID,
		ActorName:  a.Name,
		CommitTS:   out.Revision.CreatedAt.UnixMilli(),
		InstanceID: cfg.Config.InstanceID,
	}
	if err := m.events.Publish(ev); err != nil {
		log.Warn().Err(err).
			Uint64("post_id", ch.PostID).
			Str("meta_key", ch.MetaKey).
			Msg("Failed to record change event")
	}
}

// Create stores a revision of oldValue without touching the live value.
// The pair is trimmed to the retention limit afterwards.
func (m *Manager) Create(ctx context.Context, postID uint64, metaKey, oldValue string, newValue *string, batchID string) (Revision, error) {
	keep := m.retention(ctx)
	a := actor.FromContext(ctx)

	var rev Revision
	err := m.db.WithTx(ctx, func(q db.Querier) error {
		var err error
		if rev, err = m.insert(ctx, q, a, postID, metaKey, oldValue, newValue, batchID); err != nil {
			return err
		}
		return m.trim(ctx, q, postID, metaKey, keep)
	})
	if err != nil {
		return Revision{}, err
	}

	telemetry.BackupsCreatedTotal.Inc()
	m.cache.Delete(ctx, cache.GroupBackups, postID, metaKey)
	m.cache.InvalidateGroup(ctx, cache.GroupSearch)
	return rev, nil
}

// Snapshot stores the current live value of an existing meta key as a revision
func (m *Manager) Snapshot(ctx context.Context, postID uint64, metaKey string) (Revision, error) {
	live, err := m.db.GetMeta(ctx, nil, postID, metaKey)
	if err != nil {
		return Revision{}, err
	}
	if !live.Exists {
		return Revision{}, fmt.Errorf("meta %d/%s: %w", postID, metaKey, common.ErrNotFound)
	}
	return m.Create(ctx, postID, metaKey, live.Value, nil, "")
}

func (m *Manager) insert(ctx context.Context, q db.Querier, a actor.Actor, postID uint64, metaKey, oldValue string, newValue *string, batchID string) (Revision, error) {
	rev := Revision{
		RevisionID: id.ID(m.ids.NextID()),
		PostID:     postID,
		MetaKey:    metaKey,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    a.ID,
		ActorName:  a.Name,
		BatchID:    batchID,
		CreatedAt:  m.now().UTC().Truncate(time.Microsecond),
	}

	var nv interface{}
	if newValue != nil {
		nv = *newValue
	}

	_, err := q.Insert(m.table()).
		Rows(goqu.Record{
			"revision_id": uint64(rev.RevisionID),
			"post_id":     rev.PostID,
			"meta_key":    rev.MetaKey,
			"old_value":   rev.OldValue,
			"new_value":   nv,
			"actor_id":    rev.ActorID,
			"actor_name":  rev.ActorName,
			"batch_id":    rev.BatchID,
			"created_at":  rev.CreatedAt,
		}).
		Executor().ExecContext(ctx)
	if err != nil {
		return Revision{}, fmt.Errorf("failed to create backup for %d/%s: %w", postID, metaKey, err)
	}
	return rev, nil
}

// trim deletes the oldest revisions of the pair beyond keep
func (m *Manager) trim(ctx context.Context, q db.Querier, postID uint64, metaKey string, keep int) error {
	var ids []uint64
	err := q.From(m.table()).
		Select("revision_id").
		Where(goqu.Ex{"post_id": postID, "meta_key": metaKey}).
		Order(goqu.C("created_at").Desc(), goqu.C("revision_id").Desc()).
		ScanValsContext(ctx, &ids)
	if err != nil {
		return fmt.Errorf("failed to list backups for %d/%s: %w", postID, metaKey, err)
	}
	if len(ids) <= keep {
		return nil
	}

	stale := ids[keep:]
	_, err = q.Delete(m.table()).
		Where(goqu.Ex{"revision_id": stale}).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to trim backups for %d/%s: %w", postID, metaKey, err)
	}

	telemetry.BackupsPrunedTotal.With("retention").Add(float64(len(stale)))
	return nil
}
