package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxMemoryTTL bounds how long any entry may stay in the LRU
const maxMemoryTTL = time.Hour

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU backend. The LRU expires entries after
// maxMemoryTTL; shorter per-entry TTLs are checked on read.
type Memory struct {
	lru *expirable.LRU[string, memoryEntry]

	mu       sync.Mutex
	counters map[string]uint64
	now      func() time.Time
}

// NewMemory creates a memory backend holding up to size entries
func NewMemory(size int) *Memory {
	return &Memory{
		lru:      expirable.NewLRU[string, memoryEntry](size, nil, maxMemoryTTL),
		counters: make(map[string]uint64),
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.lru.Remove(key)
		return nil, ErrMiss
	}
	return entry.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(key, entry)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Counters are kept outside the LRU so generations are never evicted
func (m *Memory) Incr(_ context.Context, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) Counter(_ context.Context, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}

// Len returns the number of entries held (including not yet reaped expired ones)
func (m *Memory) Len() int {
	return m.lru.Len()
}
