package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilterEmptyPatterns(t *testing.T) {
	filter, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("seo_title", "post"))
	assert.True(t, filter.Match("", ""))
}

func TestGlobFilterMetaKeys(t *testing.T) {
	filter, err := NewGlobFilter([]string{"seo_*", "_thumbnail_id"}, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("seo_title", "post"))
	assert.True(t, filter.Match("_thumbnail_id", "page"))
	assert.False(t, filter.Match("price", "product"))
}

func TestGlobFilterPostTypes(t *testing.T) {
	filter, err := NewGlobFilter(nil, []string{"{post,page}"})
	require.NoError(t, err)

	assert.True(t, filter.Match("anything", "post"))
	assert.True(t, filter.Match("anything", "page"))
	assert.False(t, filter.Match("anything", "product"))
}

func TestGlobFilterBoth(t *testing.T) {
	filter, err := NewGlobFilter([]string{"seo_*"}, []string{"product"})
	require.NoError(t, err)

	assert.True(t, filter.Match("seo_description", "product"))
	assert.False(t, filter.Match("seo_description", "post"))
	assert.False(t, filter.Match("price", "product"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"seo_[a"}, nil)
	assert.Error(t, err)

	_, err = NewGlobFilter(nil, []string{"{post"})
	assert.Error(t, err)

	_, err = NewGlobFilter([]string{"seo_a}"}, nil)
	assert.Error(t, err)

	f, err := NewGlobFilter([]string{`seo_\[a`, "{post,page}_[a-z]*"}, nil)
	require.NoError(t, err)
	assert.True(t, f.Match("seo_[a", "post"))
	assert.True(t, f.Match("page_title", "post"))
	assert.False(t, f.Match("seo_a", "post"))
}
