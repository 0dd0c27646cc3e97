package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxPatternLength bounds user supplied regular expressions
const MaxPatternLength = 1024

const patternDelimiters = "/#~!@%|+"

// Pattern is a validated regular expression
type Pattern struct {
	Source        string         // source without case folding or (?U), as sent to REGEXP_LIKE
	CaseSensitive bool
	Re            *regexp.Regexp // compiled with case folding applied
}

// ParsePattern validates a regular expression. PHP-style delimited patterns
// such as /foo(\d+)/i are accepted; their modifiers decide case sensitivity.
// Bare patterns use caseSensitive.
func ParsePattern(raw string, caseSensitive bool) (Pattern, error) {
	if raw == "" {
		return Pattern{}, errors.New("pattern is empty")
	}
	if len(raw) > MaxPatternLength {
		return Pattern{}, fmt.Errorf("pattern is longer than %d bytes", MaxPatternLength)
	}

	source := raw
	ungreedy := false
	if body, flags, ok := splitDelimited(raw); ok {
		var prefix strings.Builder
		anchored := false
		caseSensitive = true
		for _, f := range flags {
			switch f {
			case 'i':
				caseSensitive = false
			case 'm', 's':
				prefix.WriteString("(?" + string(f) + ")")
			case 'U':
				// greediness never changes whether a value matches, and
				// MySQL's REGEXP_LIKE has no (?U)
				ungreedy = true
			case 'A':
				anchored = true
			case 'u', 'D', 'S':
			default:
				return Pattern{}, fmt.Errorf("modifier %q is not supported", f)
			}
		}
		if anchored {
			body = `\A(?:` + body + `)`
		}
		source = prefix.String() + body
	}

	expr := source
	if ungreedy {
		expr = "(?U)" + expr
	}
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, err
	}

	return Pattern{Source: source, CaseSensitive: caseSensitive, Re: re}, nil
}

// splitDelimited recognises /body/flags. The closing delimiter must be
// followed by modifier letters only, otherwise the pattern is bare.
func splitDelimited(raw string) (body, flags string, ok bool) {
	if len(raw) < 2 || !strings.ContainsRune(patternDelimiters, rune(raw[0])) {
		return "", "", false
	}
	end := strings.LastIndexByte(raw, raw[0])
	if end == 0 {
		return "", "", false
	}
	flags = raw[end+1:]
	for _, f := range flags {
		if !strings.ContainsRune("imsxuUDAXSJ", f) {
			return "", "", false
		}
	}
	return raw[1:end], flags, true
}
