package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/doug-martin/goqu/v9"

	"github.com/wpmeta/wpmeta/cfg"
)

// Minimal WordPress tables for tests
var wordpressFixtureDDL = []string{
	`CREATE TABLE wp_posts (
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		post_title TEXT NOT NULL DEFAULT '',
		post_type TEXT NOT NULL DEFAULT 'post',
		post_status TEXT NOT NULL DEFAULT 'publish'
	)`,
	`CREATE TABLE wp_postmeta (
		meta_id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL DEFAULT 0,
		meta_key TEXT NULL,
		meta_value TEXT NULL
	)`,
	`CREATE TABLE wp_options (
		option_id INTEGER PRIMARY KEY AUTOINCREMENT,
		option_name TEXT NOT NULL UNIQUE,
		option_value TEXT NOT NULL,
		autoload TEXT NOT NULL DEFAULT 'yes'
	)`,
}

// NewTestStore opens a SQLite WordPress fixture in t.TempDir() with the
// wpmeta schema applied. Table prefix is wp_.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "wordpress.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(4)
	t.Cleanup(func() { sqlDB.Close() })

	for _, ddl := range wordpressFixtureDDL {
		if _, err := sqlDB.Exec(ddl); err != nil {
			t.Fatalf("Failed to create fixture table: %v", err)
		}
	}

	s := New(sqlDB, cfg.DriverSQLite, "wp_")
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to ensure schema: %v", err)
	}
	return s
}

// SeedPost inserts a published post and returns its ID
func (s *Store) SeedPost(t testing.TB, title, postType string) uint64 {
	t.Helper()
	return s.SeedPostWithStatus(t, title, postType, "publish")
}

// SeedPostWithStatus inserts a post with an explicit status and returns its ID
func (s *Store) SeedPostWithStatus(t testing.TB, title, postType, status string) uint64 {
	t.Helper()
	res, err := s.db.Insert(s.Table(TablePosts)).
		Rows(goqu.Record{"post_title": title, "post_type": postType, "post_status": status}).
		Executor().Exec()
	if err != nil {
		t.Fatalf("Failed to seed post: %v", err)
	}
	id, _ := res.LastInsertId()
	return uint64(id)
}

// SeedMeta inserts a postmeta row
func (s *Store) SeedMeta(t testing.TB, postID uint64, key, value string) {
	t.Helper()
	_, err := s.db.Insert(s.Table(TablePostmeta)).
		Rows(goqu.Record{"post_id": postID, "meta_key": key, "meta_value": value}).
		Executor().Exec()
	if err != nil {
		t.Fatalf("Failed to seed meta: %v", err)
	}
}

// MustMeta returns the live value of a meta key, failing the test when absent
func (s *Store) MustMeta(t testing.TB, postID uint64, key string) string {
	t.Helper()
	m, err := s.GetMeta(context.Background(), nil, postID, key)
	if err != nil {
		t.Fatalf("Failed to read meta: %v", err)
	}
	if !m.Exists {
		t.Fatalf("Meta %d/%s does not exist", postID, key)
	}
	return m.Value
}

// MetaValues returns every value stored under a meta key, in meta_id order
func (s *Store) MetaValues(t testing.TB, postID uint64, key string) []string {
	t.Helper()
	var values []string
	err := s.db.From(s.Table(TablePostmeta)).
		Select("meta_value").
		Where(goqu.Ex{"post_id": postID, "meta_key": key}).
		Order(goqu.C("meta_id").Asc()).
		ScanVals(&values)
	if err != nil {
		t.Fatalf("Failed to read meta values: %v", err)
	}
	return values
}

// MetaIDs returns the meta_id of every row stored under a meta key, ascending
func (s *Store) MetaIDs(t testing.TB, postID uint64, key string) []uint64 {
	t.Helper()
	var ids []uint64
	err := s.db.From(s.Table(TablePostmeta)).
		Select("meta_id").
		Where(goqu.Ex{"post_id": postID, "meta_key": key}).
		Order(goqu.C("meta_id").Asc()).
		ScanVals(&ids)
	if err != nil {
		t.Fatalf("Failed to read meta ids: %v", err)
	}
	return ids
}

// CountRows returns the number of rows in an unprefixed table
func (s *Store) CountRows(t testing.TB, table string) int64 {
	t.Helper()
	n, err := s.db.From(s.Table(table)).Count()
	if err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
