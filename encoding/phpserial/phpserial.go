// Package phpserial rewrites string values inside PHP serialize() output.
//
// WordPress stores arrays and objects in meta values as serialized PHP. A
// plain substring replace on such a value breaks the byte-length prefixes
// (s:5:"hello";) and PHP then refuses to unserialize it. Transform walks the
// serialized structure, applies a function to every string value and
// re-encodes it with correct lengths. Array keys, property names and class
// names are never touched.
package phpserial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// maxDepth bounds nesting to keep hostile input from exhausting the stack
const maxDepth = 512

// ErrNotSerialized is returned by Parse when the input is not a single complete value
var ErrNotSerialized = errors.New("phpserial: not serialized data")

type node struct {
	tag    byte   // N b i d s a O C r R E
	scalar string // raw scalar, string body, class name or enum name
	items  []node // a / O: key, value, key, value, ...
	custom string // C payload
}

type parser struct {
	src   string
	pos   int
	depth int
}

func (p *parser) fail(format string, args ...interface{}) error {
	return fmt.Errorf("phpserial: %s at offset %d", fmt.Sprintf(format, args...), p.pos)
}

func (p *parser) expect(c byte) error {
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.fail("expected %q", c)
	}
	p.pos++
	return nil
}

// until reads up to (not including) the next c and consumes c
func (p *parser) until(c byte) (string, error) {
	idx := strings.IndexByte(p.src[p.pos:], c)
	if idx < 0 {
		return "", p.fail("missing %q", c)
	}
	out := p.src[p.pos : p.pos+idx]
	p.pos += idx + 1
	return out, nil
}

func (p *parser) length() (int, error) {
	raw, err := p.until(':')
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, p.fail("invalid length %q", raw)
	}
	return n, nil
}

// quoted reads "<n bytes>"
func (p *parser) quoted(n int) (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}
	if n > p.remaining() {
		return "", p.fail("string length %d overruns input", n)
	}
	out := p.src[p.pos : p.pos+n]
	p.pos += n
	if err := p.expect('"'); err != nil {
		return "", err
	}
	return out, nil
}

// remaining is the number of unread bytes
func (p *parser) remaining() int {
	return len(p.src) - p.pos
}

// minMemberLen is the shortest serialized member, as in i:0;
const minMemberLen = 4

func (p *parser) members(count int) ([]node, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	// every key and value takes at least minMemberLen bytes
	if count > p.remaining()/(2*minMemberLen) {
		return nil, p.fail("member count %d overruns input", count)
	}
	items := make([]node, 0, count*2)
	for i := 0; i < count*2; i++ {
		item, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) value() (node, error) {
	if p.depth++; p.depth > maxDepth {
		return node{}, p.fail("nesting too deep")
	}
	defer func() { p.depth-- }()

	if p.pos >= len(p.src) {
		return node{}, p.fail("unexpected end")
	}
	tag := p.src[p.pos]
	p.pos++

	switch tag {
	case 'N':
		if err := p.expect(';'); err != nil {
			return node{}, err
		}
		return node{tag: tag}, nil

	case 'b', 'i', 'd', 'r', 'R':
		if err := p.expect(':'); err != nil {
			return node{}, err
		}
		raw, err := p.until(';')
		if err != nil {
			return node{}, err
		}
		if raw == "" || (tag == 'b' && raw != "0" && raw != "1") {
			return node{}, p.fail("invalid %c value %q", tag, raw)
		}
		return node{tag: tag, scalar: raw}, nil

	case 's', 'E':
		if err := p.expect(':'); err != nil {
			return node{}, err
		}
		n, err := p.length()
		if err != nil {
			return node{}, err
		}
		body, err := p.quoted(n)
		if err != nil {
			return node{}, err
		}
		if err := p.expect(';'); err != nil {
			return node{}, err
		}
		return node{tag: tag, scalar: body}, nil

	case 'a':
		if err := p.expect(':'); err != nil {
			return node{}, err
		}
		count, err := p.length()
		if err != nil {
			return node{}, err
		}
		items, err := p.members(count)
		if err != nil {
			return node{}, err
		}
		return node{tag: tag, items: items}, nil

	case 'O', 'C':
		if err := p.expect(':'); err != nil {
			return node{}, err
		}
		n, err := p.length()
		if err != nil {
			return node{}, err
		}
		class, err := p.quoted(n)
		if err != nil {
			return node{}, err
		}
		if err := p.expect(':'); err != nil {
			return node{}, err
		}
		count, err := p.length()
		if err != nil {
			return node{}, err
		}
		if tag == 'C' {
			if err := p.expect('{'); err != nil {
				return node{}, err
			}
			if count > p.remaining() {
				return node{}, p.fail("custom payload overruns input")
			}
			payload := p.src[p.pos : p.pos+count]
			p.pos += count
			if err := p.expect('}'); err != nil {
				return node{}, err
			}
			return node{tag: tag, scalar: class, custom: payload}, nil
		}
		items, err := p.members(count)
		if err != nil {
			return node{}, err
		}
		return node{tag: tag, scalar: class, items: items}, nil
	}

	return node{}, p.fail("unknown type %q", tag)
}

func parse(s string) (node, error) {
	p := &parser{src: s}
	n, err := p.value()
	if err != nil {
		return node{}, err
	}
	if p.pos != len(s) {
		return node{}, ErrNotSerialized
	}
	return n, nil
}

func (n node) encode(b *strings.Builder) {
	switch n.tag {
	case 'N':
		b.WriteString("N;")
	case 'b', 'i', 'd', 'r', 'R':
		b.WriteByte(n.tag)
		b.WriteByte(':')
		b.WriteString(n.scalar)
		b.WriteByte(';')
	case 's', 'E':
		fmt.Fprintf(b, "%c:%d:\"%s\";", n.tag, len(n.scalar), n.scalar)
	case 'a':
		fmt.Fprintf(b, "a:%d:{", len(n.items)/2)
		for _, item := range n.items {
			item.encode(b)
		}
		b.WriteByte('}')
	case 'O':
		fmt.Fprintf(b, "O:%d:\"%s\":%d:{", len(n.scalar), n.scalar, len(n.items)/2)
		for _, item := range n.items {
			item.encode(b)
		}
		b.WriteByte('}')
	case 'C':
		fmt.Fprintf(b, "C:%d:\"%s\":%d:{%s}", len(n.scalar), n.scalar, len(n.custom), n.custom)
	}
}

// transform rewrites string values in place; keys (even positions) are left alone
func (n *node) transform(fn func(string) (string, error)) error {
	switch n.tag {
	case 's':
		out, err := transformString(n.scalar, fn)
		if err != nil {
			return err
		}
		n.scalar = out
	case 'a', 'O':
		for i := 1; i < len(n.items); i += 2 {
			if err := n.items[i].transform(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// transformString descends into strings that are themselves serialized
func transformString(s string, fn func(string) (string, error)) (string, error) {
	if out, ok, err := Transform(s, fn); ok || err != nil {
		return out, err
	}
	return fn(s)
}

// IsSerialized reports whether s (ignoring surrounding whitespace) is one
// complete PHP serialized value.
func IsSerialized(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return false
	}
	_, err := parse(trimmed)
	return err == nil
}

// Transform applies fn to every string value inside the serialized data s
// and returns the re-encoded result. ok is false, and s is returned
// unchanged, when s is not serialized. Surrounding whitespace is preserved.
func Transform(s string, fn func(string) (string, error)) (out string, ok bool, err error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return s, false, nil
	}
	root, perr := parse(trimmed)
	if perr != nil {
		return s, false, nil
	}
	if err := root.transform(fn); err != nil {
		return s, true, err
	}

	lead := s[:strings.Index(s, trimmed)]
	trail := s[len(lead)+len(trimmed):]

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(lead)
	root.encode(&b)
	b.WriteString(trail)
	return b.String(), true, nil
}
