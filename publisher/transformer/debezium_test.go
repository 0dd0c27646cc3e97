package transformer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wpmeta/wpmeta/publisher"
)

var (
	_ publisher.Transformer = (*DebeziumTransformer)(nil)
	_ publisher.Transformer = JSONTransformer{}
)

func sampleEvent(op uint8) publisher.ChangeEvent {
	return publisher.ChangeEvent{
		SeqNum:     7,
		RevisionID: 123456789,
		BatchID:    "b-1",
		PostID:     42,
		PostType:   "page",
		MetaKey:    "seo_description",
		Operation:  op,
		OldValue:   "see old-domain.com",
		NewValue:   "see new-domain.com",
		ActorID:    3,
		ActorName:  "editor",
		CommitTS:   1702345678901,
	}
}

func TestDebeziumTransformer_Update(t *testing.T) {
	data, err := NewDebeziumTransformer("wpmeta").Transform(sampleEvent(publisher.OpUpdate))
	require.NoError(t, err)

	var msg struct {
		Schema struct {
			Name   string `json:"name"`
			Fields []struct {
				Field string `json:"field"`
			} `json:"fields"`
		} `json:"schema"`
		Payload struct {
			Before map[string]interface{} `json:"before"`
			After  map[string]interface{} `json:"after"`
			Op     string                 `json:"op"`
			TsMs   int64                  `json:"ts_ms"`
			Source map[string]interface{} `json:"source"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))

	assert.Equal(t, "wpmeta.postmeta.Envelope", msg.Schema.Name)
	require.Len(t, msg.Schema.Fields, 5)
	assert.Equal(t, "before", msg.Schema.Fields[0].Field)

	assert.Equal(t, "u", msg.Payload.Op)
	assert.Equal(t, int64(1702345678901), msg.Payload.TsMs)
	assert.Equal(t, "see old-domain.com", msg.Payload.Before["meta_value"])
	assert.Equal(t, "see new-domain.com", msg.Payload.After["meta_value"])
	assert.Equal(t, float64(42), msg.Payload.After["post_id"])
	assert.Equal(t, "seo_description", msg.Payload.After["meta_key"])
	assert.Equal(t, "b-1", msg.Payload.Source["batch_id"])
	assert.Equal(t, "editor", msg.Payload.Source["actor_name"])
	assert.Equal(t, float64(7), msg.Payload.Source["lsn"])
}

func TestDebeziumTransformer_InsertHasNoBefore(t *testing.T) {
	data, err := NewDebeziumTransformer("wpmeta").Transform(sampleEvent(publisher.OpInsert))
	require.NoError(t, err)

	var msg map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Nil(t, msg["payload"]["before"])
	assert.Equal(t, "c", msg["payload"]["op"])
}

func TestDebeziumTransformer_RestoreIsUpdate(t *testing.T) {
	data, err := NewDebeziumTransformer("wpmeta").Transform(sampleEvent(publisher.OpRestore))
	require.NoError(t, err)

	var msg map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "u", msg["payload"]["op"])
}

func TestJSONTransformer(t *testing.T) {
	ev := sampleEvent(publisher.OpUpdate)
	data, err := JSONTransformer{}.Transform(ev)
	require.NoError(t, err)

	var got publisher.ChangeEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev, got)
	assert.Contains(t, string(data), `"meta_key":"seo_description"`)
}
