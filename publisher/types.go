package publisher

// Operation types for change events
const (
	OpInsert  uint8 = 0 // meta row created
	OpUpdate  uint8 = 1 // meta value replaced
	OpRestore uint8 = 2 // meta value restored from a backup revision
)

// ChangeEvent describes one committed meta write
type ChangeEvent struct {
	SeqNum     uint64 `json:"seq"`         // Monotonic sequence, assigned by PublishLog
	RevisionID uint64 `json:"revision_id"` // Backup revision holding OldValue
	BatchID    string `json:"batch_id,omitempty"`
	PostID     uint64 `json:"post_id"`
	PostType   string `json:"post_type"`
	MetaKey    string `json:"meta_key"`
	Operation  uint8  `json:"op"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
	ActorID    uint64 `json:"actor_id"`
	ActorName  string `json:"actor_name"`
	CommitTS   int64  `json:"ts"` // Commit timestamp (unix ms)
	InstanceID uint64 `json:"instance"`
}

// Key is the partition key of an event: every write to one meta key lands in order
func (e ChangeEvent) Key() string {
	return formatEventKey(e.PostID, e.MetaKey)
}

// Sink represents a destination for change events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts change events to sink-specific formats
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event ChangeEvent) ([]byte, error)
}

// Filter determines whether a change event should be published
type Filter interface {
	// Match returns true if the event should be published
	Match(metaKey, postType string) bool
}
