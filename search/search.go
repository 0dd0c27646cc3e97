// Package search finds post meta rows by post type, meta key and value.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/cache"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/db"
	"github.com/wpmeta/wpmeta/settings"
	"github.com/wpmeta/wpmeta/telemetry"
)

// ErrMissingCriteria is returned when a search has neither meta key nor value
var ErrMissingCriteria error = &common.ValidationError{Fields: []common.FieldError{
	{Message: "meta_key or value is required"},
}}

// Params are the search criteria
type Params struct {
	PostType      string `json:"post_type"`
	MetaKey       string `json:"meta_key"`
	Value         string `json:"value"`
	CaseSensitive bool   `json:"case_sensitive"`
	Regex         bool   `json:"regex"`
	Page          int    `json:"page"`
	PerPage       int    `json:"per_page"`
}

// Row is one matching meta value
type Row struct {
	PostID      uint64 `json:"post_id" db:"post_id"`
	MetaID      uint64 `json:"meta_id" db:"meta_id"`
	PostTitle   string `json:"post_title" db:"post_title"`
	PostType    string `json:"post_type" db:"post_type"`
	MetaKey     string `json:"meta_key" db:"meta_key"`
	MetaValue   string `json:"meta_value" db:"meta_value"`
	HasBackup   bool   `json:"has_backup" db:"-"`
	BackupCount int    `json:"backup_count" db:"-"`
}

// Result is one page of rows
type Result struct {
	Rows       []Row `json:"rows"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
}

// MetaKeyCount is a distinct meta key with its usage count
type MetaKeyCount struct {
	MetaKey string `json:"meta_key" db:"meta_key"`
	Count   int64  `json:"count" db:"total"`
}

// PostTypeCount is a post type with its number of published posts
type PostTypeCount struct {
	Name  string `json:"name" db:"post_type"`
	Count int64  `json:"count" db:"total"`
}

// Engine runs searches against the WordPress tables
type Engine struct {
	db       *db.Store
	cache    *cache.Manager
	backups  *backup.Manager
	settings *settings.Store
	conf     cfg.SearchConfiguration
}

// New creates a search engine
func New(store *db.Store, c *cache.Manager, backups *backup.Manager, st *settings.Store, conf cfg.SearchConfiguration) *Engine {
	return &Engine{db: store, cache: c, backups: backups, settings: st, conf: conf}
}

// Search returns one page of matching rows, decorated with backup counts
func (e *Engine) Search(ctx context.Context, p Params) (Result, error) {
	if p.MetaKey == "" && p.Value == "" {
		return Result{}, ErrMissingCriteria
	}

	limits, err := e.settings.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	p = e.normalize(p, limits.MaxPerPage)

	f, err := FilterFor(p)
	if err != nil {
		return Result{}, err
	}

	return cache.Remember(ctx, e.cache, cache.GroupSearch, cache.TTLSearch, func() (Result, error) {
		return e.search(ctx, f, p)
	}, p)
}

func (e *Engine) normalize(p Params, maxPerPage int) Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = e.conf.DefaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

// FilterFor converts search criteria into a row filter
func FilterFor(p Params) (Filter, error) {
	f := Filter{PostType: p.PostType, MetaKey: p.MetaKey, CaseSensitive: p.CaseSensitive}
	switch {
	case p.Value == "":
		f.Match = MatchAny
	case p.Regex:
		pat, err := ParsePattern(p.Value, p.CaseSensitive)
		if err != nil {
			return Filter{}, common.Invalid("value", "invalid regular expression: %v", err)
		}
		f.Match = MatchRegex
		f.Value = p.Value
		f.Pattern = pat
	default:
		f.Match = MatchContains
		f.Value = p.Value
	}
	return f, nil
}

func (e *Engine) search(ctx context.Context, f Filter, p Params) (Result, error) {
	start := time.Now()
	defer func() { telemetry.SearchDurationSeconds.Observe(time.Since(start).Seconds()) }()

	total, err := e.rows(f).CountContext(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count search results: %w", err)
	}

	rows := []Row{}
	offset := uint((p.Page - 1) * p.PerPage)
	if int64(offset) < total {
		err = e.rows(f).
			Select(rowColumns()...).
			Order(goqu.I(colPostID).Asc(), goqu.I(colMetaID).Asc()).
			Limit(uint(p.PerPage)).
			Offset(offset).
			ScanStructsContext(ctx, &rows)
		if err != nil {
			return Result{}, fmt.Errorf("failed to run search: %w", err)
		}
	}

	if err := e.decorate(ctx, rows); err != nil {
		return Result{}, err
	}
	telemetry.SearchRowsReturned.Observe(float64(len(rows)))

	return Result{
		Rows:       rows,
		Total:      total,
		TotalPages: int((total + int64(p.PerPage) - 1) / int64(p.PerPage)),
		Page:       p.Page,
		PerPage:    p.PerPage,
	}, nil
}

// decorate sets backup presence with one grouped lookup for the whole page
func (e *Engine) decorate(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	keys := make([]backup.Key, len(rows))
	for i, r := range rows {
		keys[i] = backup.Key{PostID: r.PostID, MetaKey: r.MetaKey}
	}
	counts, err := e.backups.Counts(ctx, keys)
	if err != nil {
		return err
	}

	for i := range rows {
		n := counts[keys[i]]
		rows[i].BackupCount = n
		rows[i].HasBackup = n > 0
	}
	return nil
}

// Matches returns up to limit rows selected by f, in post and meta id order
func (e *Engine) Matches(ctx context.Context, f Filter, limit int) ([]Row, error) {
	rows := []Row{}
	err := e.rows(f).
		Select(rowColumns()...).
		Order(goqu.I(colPostID).Asc(), goqu.I(colMetaID).Asc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to select rows: %w", err)
	}
	return rows, nil
}

// MetaKeys ranks the distinct meta keys of postType (all types when empty) by usage
func (e *Engine) MetaKeys(ctx context.Context, postType string) ([]MetaKeyCount, error) {
	return cache.Remember(ctx, e.cache, cache.GroupMetaKeys, cache.TTLMetaKeys, func() ([]MetaKeyCount, error) {
		keys := []MetaKeyCount{}
		err := e.rows(Filter{PostType: postType}).
			Select(goqu.I(colMetaKey).As("meta_key"), goqu.COUNT("*").As("total")).
			GroupBy(goqu.I(colMetaKey)).
			Order(goqu.I("total").Desc(), goqu.I("meta_key").Asc()).
			Limit(uint(e.conf.MetaKeysLimit)).
			ScanStructsContext(ctx, &keys)
		if err != nil {
			return nil, fmt.Errorf("failed to list meta keys: %w", err)
		}
		return keys, nil
	}, postType)
}

// PostTypes lists searchable post types with their published post counts
func (e *Engine) PostTypes(ctx context.Context) ([]PostTypeCount, error) {
	return cache.Remember(ctx, e.cache, cache.GroupPostTypes, cache.TTLPostTypes, func() ([]PostTypeCount, error) {
		q := e.db.Q().From(e.db.Table(db.TablePosts)).
			Select("post_type", goqu.COUNT("*").As("total")).
			Where(goqu.C("post_status").Eq("publish")).
			GroupBy("post_type").
			Order(goqu.C("post_type").Asc())
		if len(e.conf.ExcludedPostTypes) > 0 {
			q = q.Where(goqu.C("post_type").NotIn(e.conf.ExcludedPostTypes))
		}
		if len(e.conf.PublicPostTypes) > 0 {
			q = q.Where(goqu.C("post_type").In(e.conf.PublicPostTypes))
		}

		types := []PostTypeCount{}
		if err := q.ScanStructsContext(ctx, &types); err != nil {
			return nil, fmt.Errorf("failed to list post types: %w", err)
		}
		return types, nil
	})
}
