package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/wpmeta/wpmeta/cfg"
)

// memcacheClient is the part of *memcache.Client the backend uses
type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Add(item *memcache.Item) error
	Delete(key string) error
	Increment(key string, delta uint64) (uint64, error)
}

// Memcached is a memcached backend. The client has no context support;
// its own socket timeout bounds every call.
//
// memcached may evict a generation counter like any other item. A missing
// counter is recreated from the clock, so a group never returns to a
// generation it already used.
type Memcached struct {
	client memcacheClient
	now    func() time.Time
}

// NewMemcached creates a memcached backend over the configured servers
func NewMemcached(c cfg.MemcachedConfiguration) *Memcached {
	client := memcache.New(c.Servers...)
	if c.TimeoutMS > 0 {
		client.Timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return &Memcached{client: client, now: time.Now}
}

func (m *Memcached) Get(_ context.Context, key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (m *Memcached) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return m.client.Set(&memcache.Item{Key: key, Value: value, Expiration: int32(ttl / time.Second)})
}

func (m *Memcached) Delete(_ context.Context, key string) error {
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (m *Memcached) Incr(_ context.Context, key string) (uint64, error) {
	n, err := m.client.Increment(key, 1)
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return n, err
	}
	if _, err := m.seed(key); err != nil {
		return 0, err
	}
	return m.client.Increment(key, 1)
}

func (m *Memcached) Counter(_ context.Context, key string) (uint64, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return m.seed(key)
	}
	if err != nil {
		return 0, err
	}
	return parseCounter(item.Value)
}

// seed creates a missing counter at the current unix time in nanoseconds
// and returns the stored value. A concurrent creator wins the race.
func (m *Memcached) seed(key string) (uint64, error) {
	start := uint64(m.now().UnixNano())
	err := m.client.Add(&memcache.Item{Key: key, Value: []byte(strconv.FormatUint(start, 10))})
	if err == nil {
		return start, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return 0, err
	}
	item, err := m.client.Get(key)
	if err != nil {
		return 0, err
	}
	return parseCounter(item.Value)
}

func parseCounter(raw []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
}

func (m *Memcached) Close() error {
	return nil
}
