// Package transformer turns change events into sink payloads.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/wpmeta/wpmeta/publisher"
)

func init() {
	publisher.RegisterTransformer("debezium", func() publisher.Transformer {
		return NewDebeziumTransformer("wpmeta")
	})
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return JSONTransformer{}
	})
}

// DebeziumTransformer renders events as Debezium "schema + payload" envelopes,
// with a postmeta row (post_id, meta_key, meta_value) as before/after.
type DebeziumTransformer struct {
	connector string
	schema    *envelopeSchema
}

// NewDebeziumTransformer creates a transformer reporting connector as its source
func NewDebeziumTransformer(connector string) *DebeziumTransformer {
	return &DebeziumTransformer{
		connector: connector,
		schema:    buildEnvelopeSchema(connector),
	}
}

type envelopeSchema struct {
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	Fields []schemaField `json:"fields"`
}

type schemaField struct {
	Field    string        `json:"field"`
	Type     string        `json:"type"`
	Optional bool          `json:"optional,omitempty"`
	Name     string        `json:"name,omitempty"`
	Fields   []schemaField `json:"fields,omitempty"`
}

type message struct {
	Schema  *envelopeSchema `json:"schema"`
	Payload payload         `json:"payload"`
}

type payload struct {
	Before *row   `json:"before"`
	After  *row   `json:"after"`
	Op     string `json:"op"`
	TsMs   int64  `json:"ts_ms"`
	Source source `json:"source"`
}

type row struct {
	PostID    uint64 `json:"post_id"`
	PostType  string `json:"post_type"`
	MetaKey   string `json:"meta_key"`
	MetaValue string `json:"meta_value"`
}

type source struct {
	Connector  string `json:"connector"`
	Table      string `json:"table"`
	RevisionID uint64 `json:"revision_id"`
	BatchID    string `json:"batch_id,omitempty"`
	ActorID    uint64 `json:"actor_id"`
	ActorName  string `json:"actor_name"`
	Instance   uint64 `json:"instance"`
	LSN        uint64 `json:"lsn"`
}

// Transform encodes event as a Debezium envelope
func (d *DebeziumTransformer) Transform(event publisher.ChangeEvent) ([]byte, error) {
	after := &row{PostID: event.PostID, PostType: event.PostType, MetaKey: event.MetaKey, MetaValue: event.NewValue}
	var before *row
	if event.Operation != publisher.OpInsert {
		before = &row{PostID: event.PostID, PostType: event.PostType, MetaKey: event.MetaKey, MetaValue: event.OldValue}
	}

	op := publisher.OperationName(event.Operation)
	if event.Operation == publisher.OpRestore {
		op = "u"
	}

	data, err := json.Marshal(message{
		Schema: d.schema,
		Payload: payload{
			Before: before,
			After:  after,
			Op:     op,
			TsMs:   event.CommitTS,
			Source: source{
				Connector:  d.connector,
				Table:      "postmeta",
				RevisionID: event.RevisionID,
				BatchID:    event.BatchID,
				ActorID:    event.ActorID,
				ActorName:  event.ActorName,
				Instance:   event.InstanceID,
				LSN:        event.SeqNum,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal debezium message: %w", err)
	}
	return data, nil
}

func buildEnvelopeSchema(connector string) *envelopeSchema {
	rowFields := []schemaField{
		{Field: "post_id", Type: "int64"},
		{Field: "post_type", Type: "string"},
		{Field: "meta_key", Type: "string"},
		{Field: "meta_value", Type: "string"},
	}
	valueName := connector + ".postmeta.Value"

	return &envelopeSchema{
		Type: "struct",
		Name: connector + ".postmeta.Envelope",
		Fields: []schemaField{
			{Field: "before", Type: "struct", Optional: true, Name: valueName, Fields: rowFields},
			{Field: "after", Type: "struct", Optional: true, Name: valueName, Fields: rowFields},
			{Field: "op", Type: "string"},
			{Field: "ts_ms", Type: "int64"},
			{
				Field: "source",
				Type:  "struct",
				Name:  "io.wpmeta.Source",
				Fields: []schemaField{
					{Field: "connector", Type: "string"},
					{Field: "table", Type: "string"},
					{Field: "revision_id", Type: "int64"},
					{Field: "batch_id", Type: "string", Optional: true},
					{Field: "actor_id", Type: "int64"},
					{Field: "actor_name", Type: "string"},
					{Field: "instance", Type: "int64"},
					{Field: "lsn", Type: "int64"},
				},
			},
		},
	}
}

// JSONTransformer emits the change event itself as a flat JSON object
type JSONTransformer struct{}

// Transform encodes event as JSON
func (JSONTransformer) Transform(event publisher.ChangeEvent) ([]byte, error) {
	return json.Marshal(event)
}
