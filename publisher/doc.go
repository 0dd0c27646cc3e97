// Package publisher streams committed post meta changes to external systems.
//
// Every backup-then-write commit appends a ChangeEvent to a Pebble-backed
// ChangeLog. One Worker per configured sink reads the log in sequence order,
// filters events by meta key and post type globs, transforms them into a
// payload (Debezium envelope or flat JSON) and publishes them to Kafka or
// NATS JetStream with exponential-backoff retry.
//
// Key layout:
//
//	/events/{seq:016x}  -> msgpack(ChangeEvent)
//	/cursors/{sink}     -> uint64, last delivered sequence
//	/lastseq            -> uint64, newest sequence
//
// Delivery is at-least-once: the cursor is advanced after a successful
// publish, so a crash in between redelivers the event. Events below the
// lowest cursor are pruned.
package publisher
