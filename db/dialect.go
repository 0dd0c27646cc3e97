package db

import (
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/wpmeta/wpmeta/cfg"
)

// ACFFieldKeyPattern matches ACF field reference keys such as field_5f1a2b3c4d5e6
const ACFFieldKeyPattern = `^field_[a-f0-9]{13}$`

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// EscapeLike escapes LIKE wildcards using '!' as escape character.
// Every LIKE built here declares ESCAPE '!' since SQLite has no default escape.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Contains matches rows whose column contains needle
func (s *Store) Contains(col, needle string, caseSensitive bool) exp.Expression {
	pattern := "%" + EscapeLike(needle) + "%"
	switch {
	case !caseSensitive:
		return goqu.L("? LIKE ? ESCAPE '!'", goqu.I(col), pattern)
	case s.driver == cfg.DriverSQLite:
		return goqu.L("INSTR(?, ?) > 0", goqu.I(col), needle)
	default:
		return goqu.L("? LIKE BINARY ? ESCAPE '!'", goqu.I(col), pattern)
	}
}

// HasPrefix matches rows whose column starts with prefix
func (s *Store) HasPrefix(col, prefix string, caseSensitive bool) exp.Expression {
	pattern := EscapeLike(prefix) + "%"
	switch {
	case !caseSensitive:
		return goqu.L("? LIKE ? ESCAPE '!'", goqu.I(col), pattern)
	case s.driver == cfg.DriverSQLite:
		return goqu.L("INSTR(?, ?) = 1", goqu.I(col), prefix)
	default:
		return goqu.L("? LIKE BINARY ? ESCAPE '!'", goqu.I(col), pattern)
	}
}

// Regexp matches rows whose column matches an RE2-compatible pattern
func (s *Store) Regexp(col, pattern string, caseSensitive bool) exp.Expression {
	matchType := "i"
	if caseSensitive {
		matchType = "c"
	}
	return goqu.L("REGEXP_LIKE(?, ?, ?)", goqu.I(col), pattern, matchType)
}

// NotInternalKey excludes ACF bookkeeping keys (_field*, _acf*, field_<13 hex>)
func (s *Store) NotInternalKey(col string) exp.Expression {
	return goqu.And(
		goqu.L("? NOT LIKE ? ESCAPE '!'", goqu.I(col), "!_field%"),
		goqu.L("? NOT LIKE ? ESCAPE '!'", goqu.I(col), "!_acf%"),
		goqu.L("NOT REGEXP_LIKE(?, ?, 'c')", goqu.I(col), ACFFieldKeyPattern),
	)
}
