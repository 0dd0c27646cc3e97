// Package cache is the Cache Manager: a small read-through cache for search
// results, previews, backup lists and lookup tables.
//
// Entries live in a pluggable Backend (in-process LRU, redis, memcached or
// nothing). Keys are grouped; a group is invalidated as a whole by bumping
// its generation counter, which orphans every key built with the previous
// generation. Backend failures are logged and treated as misses.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Backend.Get when the key is absent or expired
var ErrMiss = errors.New("cache: miss")

// Backend stores raw values with a per-entry TTL
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments a counter, creating it when absent
	Incr(ctx context.Context, key string) (uint64, error)
	// Counter reads a counter. An absent counter reads as 0 unless the
	// backend can lose counters, in which case it is recreated at a value
	// never returned before.
	Counter(ctx context.Context, key string) (uint64, error)
	Close() error
}

// Noop is the "none" backend: every lookup misses
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error { return nil }
func (Noop) Incr(context.Context, string) (uint64, error) { return 0, nil }
func (Noop) Counter(context.Context, string) (uint64, error) { return 0, nil }
func (Noop) Close() error { return nil }
