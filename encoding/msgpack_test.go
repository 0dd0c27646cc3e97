package encoding

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRow struct {
	PostID    uint64    `json:"post_id"`
	MetaKey   string    `json:"meta_key"`
	MetaValue string    `json:"meta_value"`
	HasBackup bool      `json:"has_backup"`
	CreatedAt time.Time `json:"created_at"`
}

func TestMarshal_StructUsesJSONTags(t *testing.T) {
	in := sampleRow{PostID: 42, MetaKey: "seo_title", MetaValue: "Hello", HasBackup: true,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	data, err := Marshal(in)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, Unmarshal(data, &generic))
	assert.Contains(t, generic, "post_id")
	assert.Contains(t, generic, "meta_key")
	assert.Equal(t, "seo_title", generic["meta_key"])

	var out sampleRow
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in.PostID, out.PostID)
	assert.Equal(t, in.MetaValue, out.MetaValue)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestMarshal_Deterministic(t *testing.T) {
	v := map[string]interface{}{"b": 1, "a": "x", "c": []string{"z"}}

	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshal_StringsStayStrings(t *testing.T) {
	data, err := Marshal([]interface{}{"a", "b"})
	require.NoError(t, err)

	var out interface{}
	require.NoError(t, Unmarshal(data, &out))
	items := out.([]interface{})
	_, isString := items[0].(string)
	assert.True(t, isString)
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				in := sampleRow{PostID: uint64(g*1000 + i), MetaKey: "k"}
				data, err := Marshal(in)
				if err != nil {
					t.Errorf("marshal: %v", err)
					return
				}
				var out sampleRow
				if err := Unmarshal(data, &out); err != nil {
					t.Errorf("unmarshal: %v", err)
					return
				}
				if out.PostID != in.PostID {
					t.Errorf("expected %d, got %d", in.PostID, out.PostID)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
