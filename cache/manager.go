package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/encoding"
	"github.com/wpmeta/wpmeta/telemetry"
)

// Cache groups
const (
	GroupSearch    = "search"
	GroupPreview   = "preview"
	GroupBackups   = "backups"
	GroupMetaKeys  = "meta_keys"
	GroupPostTypes = "post_types"
	GroupSettings  = "settings"
)

// Entry lifetimes per group
const (
	TTLSearch    = 5 * time.Minute
	TTLPreview   = 2 * time.Minute
	TTLBackups   = 5 * time.Minute
	TTLMetaKeys  = 15 * time.Minute
	TTLPostTypes = 15 * time.Minute
	TTLSettings  = time.Hour
)

// Manager builds generation-scoped keys over a Backend and (de)serializes values
type Manager struct {
	backend Backend
	prefix  string
}

// New creates a manager over backend; prefix namespaces every key
func New(backend Backend, prefix string) *Manager {
	if backend == nil {
		backend = Noop{}
	}
	return &Manager{backend: backend, prefix: prefix}
}

// Open creates the backend selected by configuration
func Open(ctx context.Context, c cfg.CacheConfiguration) (*Manager, error) {
	var backend Backend
	switch c.Backend {
	case cfg.CacheMemory:
		backend = NewMemory(c.MemorySize)
	case cfg.CacheRedis:
		r, err := NewRedis(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		backend = r
	case cfg.CacheMemcached:
		backend = NewMemcached(c.Memcached)
	case cfg.CacheNone:
		backend = Noop{}
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", c.Backend)
	}

	log.Info().Str("backend", string(c.Backend)).Msg("Cache initialized")
	return New(backend, c.Prefix), nil
}

// Backend returns the underlying store
func (m *Manager) Backend() Backend {
	return m.backend
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) generationKey(group string) string {
	return m.prefix + ":gen:" + group
}

// key returns prefix:group:generation:hash(parts)
func (m *Manager) key(ctx context.Context, group string, parts []interface{}) (string, error) {
	gen, err := m.backend.Counter(ctx, m.generationKey(group))
	if err != nil {
		return "", fmt.Errorf("failed to read generation of %s: %w", group, err)
	}

	raw, err := encoding.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}

	return fmt.Sprintf("%s:%s:%d:%016x", m.prefix, group, gen, xxhash.Sum64(raw)), nil
}

// Get decodes the cached value into out and reports whether it was found
func (m *Manager) Get(ctx context.Context, group string, out interface{}, parts ...interface{}) bool {
	key, err := m.key(ctx, group, parts)
	if err != nil {
		m.fail(group, "get", err)
		return false
	}

	data, err := m.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		telemetry.CacheLookupsTotal.With(group, "miss").Inc()
		return false
	}
	if err != nil {
		m.fail(group, "get", err)
		return false
	}

	if err := encoding.Unmarshal(data, out); err != nil {
		m.fail(group, "decode", err)
		return false
	}

	telemetry.CacheLookupsTotal.With(group, "hit").Inc()
	return true
}

// Set stores value under the group's current generation
func (m *Manager) Set(ctx context.Context, group string, value interface{}, ttl time.Duration, parts ...interface{}) {
	key, err := m.key(ctx, group, parts)
	if err != nil {
		m.fail(group, "set", err)
		return
	}

	data, err := encoding.Marshal(value)
	if err != nil {
		m.fail(group, "encode", err)
		return
	}

	if err := m.backend.Set(ctx, key, data, ttl); err != nil {
		m.fail(group, "set", err)
	}
}

// Delete drops a single entry
func (m *Manager) Delete(ctx context.Context, group string, parts ...interface{}) {
	key, err := m.key(ctx, group, parts)
	if err != nil {
		m.fail(group, "delete", err)
		return
	}
	if err := m.backend.Delete(ctx, key); err != nil {
		m.fail(group, "delete", err)
	}
}

// InvalidateGroup orphans every entry of the given groups
func (m *Manager) InvalidateGroup(ctx context.Context, groups ...string) {
	for _, group := range groups {
		if _, err := m.backend.Incr(ctx, m.generationKey(group)); err != nil {
			m.fail(group, "invalidate", err)
			continue
		}
		telemetry.CacheInvalidationsTotal.With(group).Inc()
	}
}

func (m *Manager) fail(group, op string, err error) {
	telemetry.CacheLookupsTotal.With(group, "error").Inc()
	log.Warn().Err(err).Str("group", group).Str("op", op).Msg("Cache operation failed")
}

// Remember returns the cached value for parts or calls load and caches its
// result. Load errors are returned and never cached.
func Remember[T any](ctx context.Context, m *Manager, group string, ttl time.Duration, load func() (T, error), parts ...interface{}) (T, error) {
	var cached T
	if m.Get(ctx, group, &cached, parts...) {
		return cached, nil
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	m.Set(ctx, group, value, ttl, parts...)
	return value, nil
}
