package search

import (
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/wpmeta/wpmeta/db"
)

// MatchKind selects how a Filter matches meta values
type MatchKind int

const (
	MatchAny      MatchKind = iota // no value condition
	MatchContains                  // substring
	MatchPrefix                    // value starts with
	MatchRegex                     // regular expression
)

// Filter selects postmeta rows. It is shared by search and replace.
type Filter struct {
	PostType      string
	MetaKey       string
	Match         MatchKind
	Value         string
	CaseSensitive bool
	Pattern       Pattern // set when Match is MatchRegex
}

const (
	colPostID    = "pm.post_id"
	colMetaID    = "pm.meta_id"
	colMetaKey   = "pm.meta_key"
	colMetaValue = "pm.meta_value"
	colPostType  = "p.post_type"
	colPostTitle = "p.post_title"
)

// rows builds SELECT ... FROM postmeta pm JOIN posts p with the filter applied
func (e *Engine) rows(f Filter) *goqu.SelectDataset {
	return e.db.Q().
		From(goqu.T(e.db.Table(db.TablePostmeta)).As("pm")).
		Join(goqu.T(e.db.Table(db.TablePosts)).As("p"), goqu.On(goqu.I("p.ID").Eq(goqu.I(colPostID)))).
		Where(e.conditions(f)...)
}

func (e *Engine) conditions(f Filter) []exp.Expression {
	conds := []exp.Expression{
		goqu.I(colMetaKey).IsNotNull(),
		e.db.NotInternalKey(colMetaKey),
	}

	if len(e.conf.ExcludedPostTypes) > 0 {
		conds = append(conds, goqu.I(colPostType).NotIn(e.conf.ExcludedPostTypes))
	}
	if f.PostType != "" {
		conds = append(conds, goqu.I(colPostType).Eq(f.PostType))
	}
	if f.MetaKey != "" {
		conds = append(conds, goqu.I(colMetaKey).Eq(f.MetaKey))
	}

	switch f.Match {
	case MatchContains:
		conds = append(conds, e.db.Contains(colMetaValue, f.Value, f.CaseSensitive))
	case MatchPrefix:
		conds = append(conds, e.db.HasPrefix(colMetaValue, f.Value, f.CaseSensitive))
	case MatchRegex:
		conds = append(conds, e.db.Regexp(colMetaValue, f.Pattern.Source, f.Pattern.CaseSensitive))
	}
	return conds
}

func rowColumns() []interface{} {
	return []interface{}{
		goqu.I(colPostID).As("post_id"),
		goqu.I(colMetaID).As("meta_id"),
		goqu.I(colPostTitle).As("post_title"),
		goqu.I(colPostType).As("post_type"),
		goqu.COALESCE(goqu.I(colMetaKey), "").As("meta_key"),
		goqu.COALESCE(goqu.I(colMetaValue), "").As("meta_value"),
	}
}
