package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/wpmeta/wpmeta/common"
)

// LiveMeta is the current stored value of one (post, meta key) pair
type LiveMeta struct {
	MetaID   uint64
	PostID   uint64
	PostType string
	MetaKey  string
	Value    string
	Exists   bool // false when the post has no row for the key yet
}

type metaRow struct {
	MetaID  uint64         `db:"meta_id"`
	PostID  uint64         `db:"post_id"`
	MetaKey string         `db:"meta_key"`
	Value   sql.NullString `db:"meta_value"`
}

// PostType returns the post type of postID or common.ErrNotFound
func (s *Store) PostType(ctx context.Context, q Querier, postID uint64) (string, error) {
	var postType string
	found, err := s.or(q).From(s.Table(TablePosts)).
		Select("post_type").
		Where(goqu.Ex{"ID": postID}).
		ScanValContext(ctx, &postType)
	if err != nil {
		return "", fmt.Errorf("failed to read post %d: %w", postID, err)
	}
	if !found {
		return "", fmt.Errorf("post %d: %w", postID, common.ErrNotFound)
	}
	return postType, nil
}

// GetMeta reads the live value of a meta key. WordPress allows duplicate
// keys per post; the first row (lowest meta_id) is the live value, matching
// get_post_meta($id, $key, true).
func (s *Store) GetMeta(ctx context.Context, q Querier, postID uint64, key string) (LiveMeta, error) {
	postType, err := s.PostType(ctx, q, postID)
	if err != nil {
		return LiveMeta{}, err
	}

	var row metaRow
	found, err := s.or(q).From(s.Table(TablePostmeta)).
		Select("meta_id", "post_id", "meta_key", "meta_value").
		Where(goqu.Ex{"post_id": postID, "meta_key": key}).
		Order(goqu.C("meta_id").Asc()).
		Limit(1).
		ScanStructContext(ctx, &row)
	if err != nil {
		return LiveMeta{}, fmt.Errorf("failed to read meta %d/%s: %w", postID, key, err)
	}

	return LiveMeta{
		MetaID:   row.MetaID,
		PostID:   postID,
		PostType: postType,
		MetaKey:  key,
		Value:    row.Value.String,
		Exists:   found,
	}, nil
}

// GetMetaByID reads one meta row by meta_id (get_metadata_by_mid semantics).
// The row must belong to postID and key, otherwise common.ErrNotFound.
func (s *Store) GetMetaByID(ctx context.Context, q Querier, metaID, postID uint64, key string) (LiveMeta, error) {
	var row metaRow
	found, err := s.or(q).From(s.Table(TablePostmeta)).
		Select("meta_id", "post_id", "meta_key", "meta_value").
		Where(goqu.Ex{"meta_id": metaID}).
		ScanStructContext(ctx, &row)
	if err != nil {
		return LiveMeta{}, fmt.Errorf("failed to read meta row %d: %w", metaID, err)
	}
	if !found || row.PostID != postID || row.MetaKey != key {
		return LiveMeta{}, fmt.Errorf("meta row %d of %d/%s: %w", metaID, postID, key, common.ErrNotFound)
	}

	postType, err := s.PostType(ctx, q, postID)
	if err != nil {
		return LiveMeta{}, err
	}
	return LiveMeta{
		MetaID:   row.MetaID,
		PostID:   row.PostID,
		PostType: postType,
		MetaKey:  row.MetaKey,
		Value:    row.Value.String,
		Exists:   true,
	}, nil
}

// SetMetaByID writes value to a single meta row (update_metadata_by_mid semantics)
func (s *Store) SetMetaByID(ctx context.Context, q Querier, metaID uint64, value string) error {
	_, err := s.or(q).Update(s.Table(TablePostmeta)).
		Set(goqu.Record{"meta_value": value}).
		Where(goqu.Ex{"meta_id": metaID}).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update meta row %d: %w", metaID, err)
	}
	return nil
}

// SetMeta writes value to every row of the key (update_post_meta semantics),
// inserting a row when none exists.
func (s *Store) SetMeta(ctx context.Context, q Querier, postID uint64, key, value string, exists bool) error {
	q = s.or(q)
	if exists {
		_, err := q.Update(s.Table(TablePostmeta)).
			Set(goqu.Record{"meta_value": value}).
			Where(goqu.Ex{"post_id": postID, "meta_key": key}).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to update meta %d/%s: %w", postID, key, err)
		}
		return nil
	}

	_, err := q.Insert(s.Table(TablePostmeta)).
		Rows(goqu.Record{"post_id": postID, "meta_key": key, "meta_value": value}).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert meta %d/%s: %w", postID, key, err)
	}
	return nil
}

// GetOption reads an option value; found is false when the option is absent
func (s *Store) GetOption(ctx context.Context, q Querier, name string) (value string, found bool, err error) {
	found, err = s.or(q).From(s.Table(TableOptions)).
		Select("option_value").
		Where(goqu.Ex{"option_name": name}).
		ScanValContext(ctx, &value)
	if err != nil {
		return "", false, fmt.Errorf("failed to read option %s: %w", name, err)
	}
	return value, found, nil
}

// SetOption creates or replaces an option (update_option semantics)
func (s *Store) SetOption(ctx context.Context, q Querier, name, value string, autoload bool) error {
	q = s.or(q)
	_, found, err := s.GetOption(ctx, q, name)
	if err != nil {
		return err
	}

	if found {
		_, err = q.Update(s.Table(TableOptions)).
			Set(goqu.Record{"option_value": value}).
			Where(goqu.Ex{"option_name": name}).
			Executor().ExecContext(ctx)
	} else {
		al := "no"
		if autoload {
			al = "yes"
		}
		_, err = q.Insert(s.Table(TableOptions)).
			Rows(goqu.Record{"option_name": name, "option_value": value, "autoload": al}).
			Executor().ExecContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to write option %s: %w", name, err)
	}
	return nil
}
