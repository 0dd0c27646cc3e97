package phpserial

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replacer(find, repl string) func(string) (string, error) {
	return func(s string) (string, error) {
		return strings.ReplaceAll(s, find, repl), nil
	}
}

func TestIsSerialized(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`N;`, true},
		{`b:1;`, true},
		{`b:2;`, false},
		{`i:-42;`, true},
		{`d:0.5;`, true},
		{`s:5:"hello";`, true},
		{`s:6:"hello";`, false},
		{`a:1:{i:0;s:1:"x";}`, true},
		{`a:2:{i:0;s:1:"x";}`, false},
		{`O:8:"stdClass":1:{s:3:"foo";s:3:"bar";}`, true},
		{`C:11:"ArrayObject":3:{x:i}`, true},
		{` a:0:{} `, true},
		{`hello`, false},
		{`s:5:"hello";trailing`, false},
		{``, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSerialized(tt.in), "input %q", tt.in)
	}
}

func TestTransformFixesLengths(t *testing.T) {
	in := `a:2:{s:3:"url";s:18:"http://old.example";s:5:"count";i:3;}`

	out, ok, err := Transform(in, replacer("old.example", "new-site.example"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `a:2:{s:3:"url";s:23:"http://new-site.example";s:5:"count";i:3;}`, out)
	assert.True(t, IsSerialized(out))
}

func TestTransformLeavesKeysAndClassNames(t *testing.T) {
	in := `O:3:"foo":1:{s:3:"foo";s:3:"foo";}`

	out, ok, err := Transform(in, replacer("foo", "bazz"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `O:3:"foo":1:{s:3:"foo";s:4:"bazz";}`, out)
}

func TestTransformMultibyte(t *testing.T) {
	in := `a:1:{i:0;s:5:"café";}`

	out, ok, err := Transform(in, replacer("café", "thé noir"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `a:1:{i:0;s:9:"thé noir";}`, out)
}

func TestTransformNested(t *testing.T) {
	inner := `a:1:{s:4:"link";s:14:"http://old.org";}`
	outer := `a:1:{s:4:"data";s:` + strconv.Itoa(len(inner)) + `:"` + inner + `";}`

	out, ok, err := Transform(outer, replacer("old.org", "example.com"))
	require.NoError(t, err)
	require.True(t, ok)

	wantInner := `a:1:{s:4:"link";s:18:"http://example.com";}`
	assert.Equal(t, `a:1:{s:4:"data";s:`+strconv.Itoa(len(wantInner))+`:"`+wantInner+`";}`, out)
	assert.True(t, IsSerialized(out))
}

func TestTransformPreservesWhitespace(t *testing.T) {
	out, ok, err := Transform("  s:1:\"a\";\n", replacer("a", "bb"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "  s:2:\"bb\";\n", out)
}

func TestTransformNotSerialized(t *testing.T) {
	out, ok, err := Transform("plain text", replacer("plain", "x"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "plain text", out)
}

func TestTransformPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, ok, err := Transform(`s:1:"a";`, func(string) (string, error) { return "", boom })
	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestTransformCustomPayloadUntouched(t *testing.T) {
	in := `C:11:"ArrayObject":5:{x:i:0}`
	out, ok, err := Transform(in, replacer("x", "y"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestDepthLimit(t *testing.T) {
	deep := strings.Repeat("a:1:{i:0;", maxDepth+1) + "N;" + strings.Repeat("}", maxDepth+1)
	assert.False(t, IsSerialized(deep))
}

func TestOversizedLengthsRejected(t *testing.T) {
	inputs := []string{
		`a:1000000000000:{}`,
		`a:4611686018427387904:{}`,
		`O:1:"X":4611686018427387904:{}`,
		`s:9223372036854775807:"x";`,
		`C:1:"X":9223372036854775807:{}`,
		`a:2:{i:0;i:0;}`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, IsSerialized(in))

				out, ok, err := Transform(in, replacer("x", "y"))
				assert.NoError(t, err)
				assert.False(t, ok)
				assert.Equal(t, in, out)
			})
		})
	}
}
