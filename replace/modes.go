package replace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/encoding/phpserial"
	"github.com/wpmeta/wpmeta/search"
	"github.com/wpmeta/wpmeta/telemetry"
)

// Mode selects how a replacement is computed
type Mode string

const (
	ModePlain      Mode = "plain"       // case-insensitive substring
	ModePlainCS    Mode = "plain_cs"    // case-sensitive substring
	ModeRegex      Mode = "regex"       // pattern substitution with $1 / \1 backrefs
	ModeURL        Mode = "url"         // scheme and host swap
	ModeURLSegment Mode = "url_segment" // whole path segment swap
	ModePrefixSwap Mode = "prefix_swap" // only values starting with find
	ModeFullText   Mode = "full_text"   // overwrite the whole value
)

// Modes lists every supported mode
var Modes = []Mode{ModePlain, ModePlainCS, ModeRegex, ModeURL, ModeURLSegment, ModePrefixSwap, ModeFullText}

// ErrRegexTimeout is returned when a regex replacement exceeds its deadline
var ErrRegexTimeout = errors.New("regular expression evaluation timed out")

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// serializedAware reports whether the mode rewrites inside PHP serialized values
func (m Mode) serializedAware() bool {
	switch m {
	case ModePrefixSwap, ModeFullText:
		return false
	}
	return true
}

// plan is a compiled replacement: which rows to select and how to rewrite them
type plan struct {
	mode   Mode
	filter search.Filter
	leaf   func(ctx context.Context, s string) (string, error)
}

// apply computes the new value. Serialized values are rewritten leaf by leaf
// so string lengths stay valid.
func (p *plan) apply(ctx context.Context, value string) (string, error) {
	if !p.mode.serializedAware() {
		return p.leaf(ctx, value)
	}

	fn := func(s string) (string, error) { return p.leaf(ctx, s) }
	out, ok, err := phpserial.Transform(value, fn)
	if err != nil {
		return "", err
	}
	if ok {
		return out, nil
	}
	return fn(value)
}

func compile(p Params, regexTimeout time.Duration) (*plan, error) {
	if !p.Mode.Valid() {
		return nil, common.Invalid("mode", "unknown mode %q", p.Mode)
	}
	if p.Mode == ModeFullText {
		if p.MetaKey == "" {
			return nil, common.Invalid("meta_key", "is required for full_text mode")
		}
	} else if p.Find == "" {
		return nil, common.Invalid("find", "is required")
	}

	pl := &plan{
		mode: p.Mode,
		filter: search.Filter{
			PostType:      p.PostType,
			MetaKey:       p.MetaKey,
			CaseSensitive: p.CaseSensitive,
		},
	}

	switch p.Mode {
	case ModePlain:
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(p.Find))
		pl.filter.Match, pl.filter.Value, pl.filter.CaseSensitive = search.MatchContains, p.Find, false
		pl.leaf = func(_ context.Context, s string) (string, error) {
			return re.ReplaceAllLiteralString(s, p.Replace), nil
		}

	case ModePlainCS:
		pl.filter.Match, pl.filter.Value, pl.filter.CaseSensitive = search.MatchContains, p.Find, true
		pl.leaf = func(_ context.Context, s string) (string, error) {
			return strings.ReplaceAll(s, p.Find, p.Replace), nil
		}

	case ModeRegex:
		pat, err := search.ParsePattern(p.Find, p.CaseSensitive)
		if err != nil {
			return nil, common.Invalid("find", "invalid regular expression: %v", err)
		}
		pl.filter.Match, pl.filter.Value, pl.filter.Pattern = search.MatchRegex, p.Find, pat
		template := convertTemplate(p.Replace)
		pl.leaf = func(ctx context.Context, s string) (string, error) {
			return replaceWithDeadline(ctx, pat.Re, s, template, regexTimeout)
		}

	case ModeURL:
		u, err := newURLReplacer(p.Find, p.Replace)
		if err != nil {
			return nil, err
		}
		pl.filter.Match, pl.filter.Value, pl.filter.CaseSensitive = search.MatchContains, u.host, false
		pl.leaf = func(_ context.Context, s string) (string, error) {
			return u.Replace(s), nil
		}

	case ModeURLSegment:
		find := strings.Trim(p.Find, "/")
		repl := strings.Trim(p.Replace, "/")
		if find == "" {
			return nil, common.Invalid("find", "must name a path segment")
		}
		pl.filter.Match, pl.filter.Value, pl.filter.CaseSensitive = search.MatchContains, "/"+find, true
		pl.leaf = func(_ context.Context, s string) (string, error) {
			return replaceSegment(s, find, repl), nil
		}

	case ModePrefixSwap:
		pl.filter.Match, pl.filter.Value, pl.filter.CaseSensitive = search.MatchPrefix, p.Find, true
		pl.leaf = func(_ context.Context, s string) (string, error) {
			if strings.HasPrefix(s, p.Find) {
				return p.Replace + s[len(p.Find):], nil
			}
			return s, nil
		}

	case ModeFullText:
		pl.filter.Match = search.MatchAny
		pl.leaf = func(_ context.Context, _ string) (string, error) {
			return p.Replace, nil
		}
	}

	if p.ValueFilter != "" {
		pl.filter.Match = search.MatchContains
		pl.filter.Value = p.ValueFilter
		pl.filter.CaseSensitive = p.CaseSensitive
		pl.filter.Pattern = search.Pattern{}
	}
	return pl, nil
}

// replaceWithDeadline runs one regex replacement bounded by timeout
func replaceWithDeadline(ctx context.Context, re *regexp.Regexp, s, template string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		done <- re.ReplaceAllString(s, template)
	}()

	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			telemetry.RegexTimeoutsTotal.Inc()
			return "", ErrRegexTimeout
		}
		return "", ctx.Err()
	}
}

// convertTemplate rewrites PHP replacement syntax ($1, \1, ${1}) into the
// ${1} form and escapes any other dollar sign.
func convertTemplate(repl string) string {
	var b strings.Builder
	b.Grow(len(repl) + 8)

	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case (c == '$' || c == '\\') && i+1 < len(repl) && isDigit(repl[i+1]):
			j := i + 1
			for j < len(repl) && j < i+3 && isDigit(repl[j]) {
				j++
			}
			fmt.Fprintf(&b, "${%s}", repl[i+1:j])
			i = j - 1
		case c == '$' && strings.HasPrefix(repl[i:], "${"):
			end := strings.IndexByte(repl[i:], '}')
			if end > 2 && allDigits(repl[i+2:i+end]) {
				b.WriteString(repl[i : i+end+1])
				i += end
				continue
			}
			b.WriteString("$$")
		case c == '$':
			b.WriteString("$$")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

// segment boundaries after a matched path segment
const segmentEnd = "/?#&\"' \\\t\n)<>"

// replaceSegment swaps whole path segments equal to find. A segment starts
// after '/' and ends at the end of the value or at a boundary character.
func replaceSegment(s, find, repl string) string {
	needle := "/" + find

	var b strings.Builder
	i := 0
	for {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			break
		}
		start := i + j + 1
		end := start + len(find)
		b.WriteString(s[i:start])
		if end == len(s) || strings.IndexByte(segmentEnd, s[end]) >= 0 {
			b.WriteString(repl)
			i = end
			continue
		}
		i = start
	}
	if i == 0 {
		return s
	}
	b.WriteString(s[i:])
	return b.String()
}
