package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/telemetry"
)

// Restored describes a completed restore
type Restored struct {
	RestoredFrom id.ID  `json:"restored_from"`
	BackupID     id.ID  `json:"backup_id"` // revision holding the value that was replaced
	PostID       uint64 `json:"post_id"`
	MetaKey      string `json:"meta_key"`
	Value        string `json:"value"`
}

// BatchItem is the outcome of restoring one revision of a batch
type BatchItem struct {
	RevisionID id.ID  `json:"revision_id"`
	PostID     uint64 `json:"post_id"`
	MetaKey    string `json:"meta_key"`
	Success    bool   `json:"success"`
	BackupID   id.ID  `json:"backup_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult aggregates a batch restore
type BatchResult struct {
	Restored int         `json:"restored"`
	Failed   int         `json:"failed"`
	Items    []BatchItem `json:"items"`
	BatchID  string      `json:"batch_id"` // batch of the restore writes themselves
}

// RestoreRevision writes the revision's old value back as the live value.
// The value being replaced is backed up first, so a restore can be undone.
func (m *Manager) RestoreRevision(ctx context.Context, revisionID id.ID) (Restored, error) {
	rev, err := m.Get(ctx, revisionID)
	if err != nil {
		telemetry.RestoresTotal.With("revision", "failed").Inc()
		return Restored{}, err
	}
	out, err := m.restore(ctx, rev, "")
	telemetry.RestoresTotal.With("revision", result(err)).Inc()
	return out, err
}

// RestoreLatest restores the newest revision of a pair
func (m *Manager) RestoreLatest(ctx context.Context, postID uint64, metaKey string) (Restored, error) {
	rev, err := m.Latest(ctx, postID, metaKey)
	if err != nil {
		telemetry.RestoresTotal.With("latest", "failed").Inc()
		return Restored{}, err
	}
	out, err := m.restore(ctx, rev, "")
	telemetry.RestoresTotal.With("latest", result(err)).Inc()
	return out, err
}

// RestoreBatch restores every revision of batchID in creation order. One
// failure does not stop the rest; the restore writes share a new batch id.
func (m *Manager) RestoreBatch(ctx context.Context, batchID string) (BatchResult, error) {
	if batchID == "" {
		return BatchResult{}, common.Invalid("batch_id", "is required")
	}

	var revs []Revision
	err := m.db.Q().From(m.table()).
		Select(revisionColumns...).
		Where(goqu.Ex{"batch_id": batchID}).
		Order(goqu.C("created_at").Asc(), goqu.C("revision_id").Asc()).
		ScanStructsContext(ctx, &revs)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to read batch %s: %w", batchID, err)
	}
	if len(revs) == 0 {
		return BatchResult{}, fmt.Errorf("batch %s: %w", batchID, common.ErrNotFound)
	}

	res := BatchResult{BatchID: id.NewBatchID(), Items: make([]BatchItem, 0, len(revs))}
	for _, rev := range revs {
		item := BatchItem{RevisionID: rev.RevisionID, PostID: rev.PostID, MetaKey: rev.MetaKey}

		out, err := m.restore(ctx, rev, res.BatchID)
		if err != nil {
			res.Failed++
			item.Error = err.Error()
		} else {
			res.Restored++
			item.Success = true
			item.BackupID = out.BackupID
		}
		res.Items = append(res.Items, item)
	}

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	telemetry.RestoresTotal.With("batch", outcome).Inc()
	return res, nil
}

func (m *Manager) restore(ctx context.Context, rev Revision, batchID string) (Restored, error) {
	applied, err := m.Apply(ctx, Change{
		PostID:   rev.PostID,
		MetaKey:  rev.MetaKey,
		NewValue: rev.OldValue,
		BatchID:  batchID,
		Restore:  true,
	})
	if err != nil {
		return Restored{}, fmt.Errorf("restore revision %d: %w", rev.RevisionID, err)
	}

	return Restored{
		RestoredFrom: rev.RevisionID,
		BackupID:     applied.Revision.RevisionID,
		PostID:       rev.PostID,
		MetaKey:      rev.MetaKey,
		Value:        rev.OldValue,
	}, nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	default:
		return "failed"
	}
}
