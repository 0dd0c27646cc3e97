// Package replace computes new meta values per replace mode and applies
// them row by row through the backup manager.
package replace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/audit"
	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/id"
	"github.com/wpmeta/wpmeta/search"
	"github.com/wpmeta/wpmeta/settings"
	"github.com/wpmeta/wpmeta/telemetry"
)

// ErrNotConfirmed is returned by Execute unless Params.Confirm is set
var ErrNotConfirmed error = &common.ValidationError{Fields: []common.FieldError{
	{Field: "confirm", Message: "must be true to execute a replace"},
}}

// Item outcomes
const (
	StatusUpdated = "updated"
	StatusFailed  = "failed"
)

// Params describe a replace operation
type Params struct {
	Find          string `json:"find"`
	Replace       string `json:"replace"`
	Mode          Mode   `json:"mode"`
	MetaKey       string `json:"meta_key"`
	PostType      string `json:"post_type"`
	ValueFilter   string `json:"value_filter"`
	CaseSensitive bool   `json:"case_sensitive"`
	Limit         int    `json:"limit"`
	Confirm       bool   `json:"confirm"`
	BatchID       string `json:"batch_id"`
}

// fields returns the audit context of p
func (p Params) fields() map[string]interface{} {
	return map[string]interface{}{
		"mode":           string(p.Mode),
		"find":           p.Find,
		"replace":        p.Replace,
		"meta_key":       p.MetaKey,
		"post_type":      p.PostType,
		"value_filter":   p.ValueFilter,
		"case_sensitive": p.CaseSensitive,
		"limit":          p.Limit,
	}
}

// previewKey is the part of Params a preview depends on
type previewKey struct {
	Find          string
	Replace       string
	Mode          Mode
	MetaKey       string
	PostType      string
	ValueFilter   string
	CaseSensitive bool
	Limit         int
}

// PreviewRow is a would-be change
type PreviewRow struct {
	PostID    uint64 `json:"post_id"`
	PostTitle string `json:"post_title"`
	PostType  string `json:"post_type"`
	MetaKey   string `json:"meta_key"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	Error     string `json:"error,omitempty"`
}

// PreviewResult lists the rows an Execute with the same params would change
type PreviewResult struct {
	Rows  []PreviewRow `json:"rows"`
	Total int          `json:"total"`
}

// Item is the outcome of one row of a bulk replace
type Item struct {
	PostID     uint64 `json:"post_id"`
	MetaKey    string `json:"meta_key"`
	Status     string `json:"status"`
	RevisionID id.ID  `json:"revision_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result aggregates a bulk replace
type Result struct {
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Items   []Item `json:"items"`
	BatchID string `json:"batch_id"`
}

// Engine previews and executes replacements
type Engine struct {
	search   *search.Engine
	backups  *backup.Manager
	settings *settings.Store
	cache    *cache.Manager
	logger   *audit.Logger
	conf     cfg.ReplaceConfiguration
}

// New creates a replace engine
func New(s *search.Engine, backups *backup.Manager, st *settings.Store, c *cache.Manager, logger *audit.Logger, conf cfg.ReplaceConfiguration) *Engine {
	return &Engine{
		search:   s,
		backups:  backups,
		settings: st,
		cache:    c,
		logger:   logger,
		conf:     conf,
	}
}

func (e *Engine) regexTimeout() time.Duration {
	return time.Duration(e.conf.RegexTimeoutMS) * time.Millisecond
}

// limit resolves the row bound: default when unset, capped by the
// max_bulk_rows setting and the configured hard maximum
func (e *Engine) limit(ctx context.Context, requested int) (int, error) {
	s, err := e.settings.Get(ctx)
	if err != nil {
		return 0, err
	}

	limit := requested
	if limit <= 0 {
		limit = e.conf.DefaultLimit
	}
	if limit > s.MaxBulkRows {
		limit = s.MaxBulkRows
	}
	if limit > e.conf.HardMaxRows {
		limit = e.conf.HardMaxRows
	}
	return limit, nil
}

// Preview computes new values without writing. Only rows whose value would
// change are returned.
func (e *Engine) Preview(ctx context.Context, p Params) (PreviewResult, error) {
	pl, err := compile(p, e.regexTimeout())
	if err != nil {
		return PreviewResult{}, err
	}
	limit, err := e.limit(ctx, p.Limit)
	if err != nil {
		return PreviewResult{}, err
	}

	key := previewKey{
		Find:          p.Find,
		Replace:       p.Replace,
		Mode:          p.Mode,
		MetaKey:       p.MetaKey,
		PostType:      p.PostType,
		ValueFilter:   p.ValueFilter,
		CaseSensitive: p.CaseSensitive,
		Limit:         limit,
	}
	return cache.Remember(ctx, e.cache, cache.GroupPreview, cache.TTLPreview, func() (PreviewResult, error) {
		return e.preview(ctx, pl, limit)
	}, key)
}

func (e *Engine) preview(ctx context.Context, pl *plan, limit int) (PreviewResult, error) {
	rows, err := e.search.Matches(ctx, pl.filter, limit)
	if err != nil {
		return PreviewResult{}, err
	}

	out := PreviewResult{Rows: []PreviewRow{}}
	for _, r := range rows {
		pr := PreviewRow{
			PostID:    r.PostID,
			PostTitle: r.PostTitle,
			PostType:  r.PostType,
			MetaKey:   r.MetaKey,
			OldValue:  r.MetaValue,
		}

		newValue, err := pl.apply(ctx, r.MetaValue)
		if err != nil {
			if ctx.Err() != nil {
				return PreviewResult{}, ctx.Err()
			}
			pr.Error = err.Error()
			out.Rows = append(out.Rows, pr)
			continue
		}
		if newValue == r.MetaValue {
			continue
		}
		pr.NewValue = newValue
		out.Rows = append(out.Rows, pr)
	}

	out.Total = len(out.Rows)
	return out, nil
}

// Execute applies the replacement to every matched row. Each row is backed
// up and written independently; a failed row is reported and the batch
// continues.
func (e *Engine) Execute(ctx context.Context, p Params) (Result, error) {
	if !p.Confirm {
		return Result{}, ErrNotConfirmed
	}
	pl, err := compile(p, e.regexTimeout())
	if err != nil {
		return Result{}, err
	}
	limit, err := e.limit(ctx, p.Limit)
	if err != nil {
		return Result{}, err
	}

	batchID := p.BatchID
	if batchID == "" {
		batchID = id.NewBatchID()
	}

	rows, err := e.search.Matches(ctx, pl.filter, limit)
	if err != nil {
		e.logger.Error(ctx, "replace", "Bulk replace could not select rows", withError(p.fields(), err))
		return Result{}, err
	}
	telemetry.ReplaceBatchRows.Observe(float64(len(rows)))

	res := Result{Items: []Item{}, BatchID: batchID}
	for _, r := range rows {
		item, ok := e.replaceRow(ctx, pl, r, batchID)
		if !ok {
			res.Skipped++
			telemetry.ReplaceRowsTotal.With(string(p.Mode), "skipped").Inc()
			continue
		}
		if item.Status == StatusUpdated {
			res.Updated++
		} else {
			res.Failed++
		}
		telemetry.ReplaceRowsTotal.With(string(p.Mode), item.Status).Inc()
		res.Items = append(res.Items, item)
	}

	fields := p.fields()
	fields["batch_id"] = batchID
	fields["matched"] = len(rows)
	fields["updated"] = res.Updated
	fields["failed"] = res.Failed
	fields["skipped"] = res.Skipped
	if res.Failed > 0 {
		e.logger.Warning(ctx, "replace", fmt.Sprintf("Bulk replace finished with %d failed rows", res.Failed), fields)
	} else {
		e.logger.Info(ctx, "replace", fmt.Sprintf("Bulk replace updated %d rows", res.Updated), fields)
	}
	return res, nil
}

// replaceRow returns false when the row needs no change
func (e *Engine) replaceRow(ctx context.Context, pl *plan, r search.Row, batchID string) (Item, bool) {
	item := Item{PostID: r.PostID, MetaKey: r.MetaKey}

	newValue, err := pl.apply(ctx, r.MetaValue)
	if err != nil {
		return failed(item, err), true
	}
	if newValue == r.MetaValue {
		return item, false
	}

	old := r.MetaValue
	applied, err := e.backups.Apply(ctx, backup.Change{
		MetaID:   r.MetaID,
		PostID:   r.PostID,
		MetaKey:  r.MetaKey,
		NewValue: newValue,
		BatchID:  batchID,
		Expected: &old,
	})
	if err != nil {
		log.Warn().Err(err).Uint64("post_id", r.PostID).Str("meta_key", r.MetaKey).Msg("Replace failed for row")
		return failed(item, err), true
	}

	item.Status = StatusUpdated
	item.RevisionID = applied.Revision.RevisionID
	return item, true
}

func failed(item Item, err error) Item {
	item.Status = StatusFailed
	item.Error = err.Error()
	if errors.Is(err, backup.ErrConflict) {
		item.Error = "value changed during replace"
	}
	return item
}

// UpdateRow writes one meta value, backing up the previous value
func (e *Engine) UpdateRow(ctx context.Context, postID uint64, metaKey, newValue string) (backup.Applied, error) {
	fields := map[string]interface{}{"post_id": postID, "meta_key": metaKey}

	applied, err := e.backups.Apply(ctx, backup.Change{PostID: postID, MetaKey: metaKey, NewValue: newValue})
	if err != nil {
		e.logger.Error(ctx, "update_row", "Row update failed", withError(fields, err))
		return backup.Applied{}, err
	}

	fields["revision_id"] = applied.Revision.RevisionID.String()
	e.logger.Info(ctx, "update_row", "Row updated", fields)
	return applied, nil
}

func withError(fields map[string]interface{}, err error) map[string]interface{} {
	fields["error"] = err.Error()
	return fields
}
