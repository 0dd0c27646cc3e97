package db

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the custom driver name with MySQL REGEXP support
const SQLiteDriverName = "sqlite3_wpmeta"

// compiled patterns, shared across connections
var patternCache, _ = lru.New[uint64, *regexp.Regexp](256)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: RegisterMySQLCompatFuncs,
	})
}

// RegisterMySQLCompatFuncs registers the MySQL functions wpmeta queries rely on.
// Usage: column REGEXP 'pattern', REGEXP_LIKE(column, 'pattern', 'c')
func RegisterMySQLCompatFuncs(conn *sqlite3.SQLiteConn) error {
	funcs := []struct {
		name string
		impl interface{}
	}{
		{"regexp", regexpMatch},
		{"regexp_like", regexpLike},
	}

	for _, f := range funcs {
		if err := conn.RegisterFunc(f.name, f.impl, true); err != nil {
			return fmt.Errorf("failed to register function %s: %w", f.name, err)
		}
	}
	return nil
}

// regexpMatch implements `text REGEXP pattern` (SQLite passes the pattern first)
func regexpMatch(pattern, text string) (bool, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

// regexpLike implements REGEXP_LIKE(expr, pattern, match_type).
// match_type 'i' is case-insensitive, 'c' case-sensitive; the last one wins.
func regexpLike(text, pattern, matchType string) (bool, error) {
	insensitive := false
	for _, c := range matchType {
		switch c {
		case 'i':
			insensitive = true
		case 'c':
			insensitive = false
		}
	}
	if insensitive {
		pattern = "(?i)" + pattern
	}

	re, err := compilePattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	key := xxhash.Sum64String(pattern)
	if re, ok := patternCache.Get(key); ok && re.String() == pattern {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", strings.TrimPrefix(pattern, "(?i)"), err)
	}
	patternCache.Add(key, re)
	return re, nil
}
