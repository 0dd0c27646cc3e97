package replace

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/wpmeta/wpmeta/common"
)

var schemePrefix = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*):(?://|\\/\\/)`)

// urlReplacer swaps a site address in every form WordPress stores it:
// absolute (http and https), protocol-relative, bare host, JSON-escaped
// (https:\/\/host) and URL-encoded (https%3A%2F%2Fhost).
type urlReplacer struct {
	host string
	r    *strings.Replacer
}

type address struct {
	scheme string
	rest   string // host plus optional path, no trailing slash
}

func parseAddress(field, raw string) (address, error) {
	raw = strings.TrimSpace(raw)

	var a address
	if m := schemePrefix.FindStringSubmatch(raw); m != nil {
		a.scheme = strings.ToLower(m[1])
		raw = raw[len(m[0]):]
	} else {
		raw = strings.TrimPrefix(raw, "//")
	}
	a.rest = strings.TrimRight(strings.ReplaceAll(raw, `\/`, "/"), "/")

	if a.rest == "" {
		return address{}, common.Invalid(field, "must be a host or URL")
	}
	u, err := url.Parse("http://" + a.rest)
	if err != nil || u.Host == "" {
		return address{}, common.Invalid(field, "%q is not a valid host or URL", raw)
	}
	return a, nil
}

func newURLReplacer(find, replace string) (*urlReplacer, error) {
	from, err := parseAddress("find", find)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("replace", replace)
	if err != nil {
		return nil, err
	}

	var pairs [][2]string
	schemes := []string{"http", "https"}
	if from.scheme != "" {
		schemes = []string{from.scheme}
	}
	for _, s := range schemes {
		target := to.scheme
		if target == "" {
			target = s
		}
		pairs = append(pairs, [2]string{s + "://" + from.rest, target + "://" + to.rest})
	}
	pairs = append(pairs, [2]string{"//" + from.rest, "//" + to.rest})
	if from.scheme == "" {
		pairs = append(pairs, [2]string{from.rest, to.rest})
	}

	seen := map[string]bool{}
	var args []string
	add := func(old, repl string) {
		if seen[old] {
			return
		}
		seen[old] = true
		args = append(args, old, repl)
	}
	for _, p := range pairs {
		add(p[0], p[1])
		add(jsonEscape(p[0]), jsonEscape(p[1]))
		add(url.QueryEscape(p[0]), url.QueryEscape(p[1]))
	}

	host := from.rest
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return &urlReplacer{host: host, r: strings.NewReplacer(args...)}, nil
}

// Replace rewrites every occurrence of the old address in s
func (u *urlReplacer) Replace(s string) string {
	return u.r.Replace(s)
}

func jsonEscape(s string) string {
	return strings.ReplaceAll(s, "/", `\/`)
}
