package publisher

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects change events by meta key and post type glob patterns
type GlobFilter struct {
	metaKeys  []glob.Glob
	postTypes []glob.Glob
}

// NewGlobFilter compiles the patterns. An empty pattern list matches everything.
func NewGlobFilter(metaKeyPatterns, postTypePatterns []string) (*GlobFilter, error) {
	metaKeys, err := compileGlobs("meta key", metaKeyPatterns)
	if err != nil {
		return nil, err
	}
	postTypes, err := compileGlobs("post type", postTypePatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{metaKeys: metaKeys, postTypes: postTypes}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if err := checkBrackets(p); err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// checkBrackets rejects unclosed character classes and alternations, which
// glob.Compile accepts as literals
func checkBrackets(p string) error {
	depth := 0
	inClass := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '{':
			depth++
		case c == '}':
			if depth == 0 {
				return errors.New("unexpected }")
			}
			depth--
		}
	}
	if inClass {
		return errors.New("unclosed [")
	}
	if depth > 0 {
		return errors.New("unclosed {")
	}
	return nil
}

// Match returns true when both the meta key and the post type are selected
func (f *GlobFilter) Match(metaKey, postType string) bool {
	return anyMatch(f.postTypes, postType) && anyMatch(f.metaKeys, metaKey)
}

func anyMatch(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
