package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpmeta/wpmeta/cfg"
)

type page struct {
	Rows  []string `json:"rows"`
	Total int      `json:"total"`
}

type query struct {
	MetaKey string `json:"meta_key"`
	Page    int    `json:"page"`
}

func newRedisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), cfg.RedisConfiguration{Addr: mr.Addr()})
	require.NoError(t, err)
	m := New(r, "test")
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func backends(t *testing.T) map[string]*Manager {
	redisManager, _ := newRedisManager(t)
	mc, _ := newFakeMemcached()
	return map[string]*Manager{
		"memory":    New(NewMemory(64), "test"),
		"memcached": New(mc, "test"),
		"redis":     redisManager,
	}
}

func TestManagerGetSet(t *testing.T) {
	ctx := context.Background()
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := query{MetaKey: "color", Page: 1}
			var out page
			assert.False(t, m.Get(ctx, GroupSearch, &out, q))

			m.Set(ctx, GroupSearch, page{Rows: []string{"a"}, Total: 1}, time.Minute, q)
			require.True(t, m.Get(ctx, GroupSearch, &out, q))
			assert.Equal(t, page{Rows: []string{"a"}, Total: 1}, out)

			var other page
			assert.False(t, m.Get(ctx, GroupSearch, &other, query{MetaKey: "color", Page: 2}))
		})
	}
}

func TestManagerInvalidateGroup(t *testing.T) {
	ctx := context.Background()
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m.Set(ctx, GroupSearch, 1, time.Minute, "k")
			m.Set(ctx, GroupPreview, 2, time.Minute, "k")
			m.Set(ctx, GroupSettings, 3, time.Minute, "k")

			m.InvalidateGroup(ctx, GroupSearch, GroupPreview)

			var v int
			assert.False(t, m.Get(ctx, GroupSearch, &v, "k"))
			assert.False(t, m.Get(ctx, GroupPreview, &v, "k"))
			require.True(t, m.Get(ctx, GroupSettings, &v, "k"))
			assert.Equal(t, 3, v)
		})
	}
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	m := New(NewMemory(8), "test")

	m.Set(ctx, GroupBackups, []string{"r1"}, time.Minute, uint64(1), "color")
	m.Set(ctx, GroupBackups, []string{"r2"}, time.Minute, uint64(2), "color")
	m.Delete(ctx, GroupBackups, uint64(1), "color")

	var v []string
	assert.False(t, m.Get(ctx, GroupBackups, &v, uint64(1), "color"))
	assert.True(t, m.Get(ctx, GroupBackups, &v, uint64(2), "color"))
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	m := New(NewMemory(8), "test")

	calls := 0
	load := func() (*page, error) {
		calls++
		return &page{Total: calls}, nil
	}

	first, err := Remember(ctx, m, GroupMetaKeys, time.Minute, load, "post")
	require.NoError(t, err)
	second, err := Remember(ctx, m, GroupMetaKeys, time.Minute, load, "post")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	boom := errors.New("boom")
	_, err = Remember(ctx, m, GroupMetaKeys, time.Minute, func() (*page, error) { return nil, boom }, "page")
	assert.ErrorIs(t, err, boom)

	var v *page
	assert.False(t, m.Get(ctx, GroupMetaKeys, &v, "page"), "errors must not be cached")
}

func TestMemoryPerEntryTTL(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(8)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return now }

	require.NoError(t, mem.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, mem.Set(ctx, "long", []byte("b"), 10*time.Minute))

	now = now.Add(2 * time.Minute)

	_, err := mem.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
	v, err := mem.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)
}

func TestNoopBackend(t *testing.T) {
	ctx := context.Background()
	m := New(Noop{}, "test")

	m.Set(ctx, GroupSearch, 1, time.Minute, "k")
	var v int
	assert.False(t, m.Get(ctx, GroupSearch, &v, "k"))
	m.InvalidateGroup(ctx, GroupSearch)
}

func TestRedisOutageIsAMiss(t *testing.T) {
	ctx := context.Background()
	m, mr := newRedisManager(t)

	m.Set(ctx, GroupSearch, 1, time.Minute, "k")
	mr.Close()

	var v int
	assert.False(t, m.Get(ctx, GroupSearch, &v, "k"))

	calls := 0
	got, err := Remember(ctx, m, GroupSearch, time.Minute, func() (int, error) {
		calls++
		return 42, nil
	}, "k")
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	m, mr := newRedisManager(t)

	m.Set(ctx, GroupPreview, "x", TTLPreview, "k")
	mr.FastForward(TTLPreview + time.Second)

	var v string
	assert.False(t, m.Get(ctx, GroupPreview, &v, "k"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	m, err := Open(ctx, cfg.CacheConfiguration{Backend: cfg.CacheNone, Prefix: "p"})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, m.backend)

	m, err = Open(ctx, cfg.CacheConfiguration{Backend: cfg.CacheMemory, MemorySize: 4})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, m.backend)

	m, err = Open(ctx, cfg.CacheConfiguration{Backend: cfg.CacheMemcached, Memcached: cfg.MemcachedConfiguration{Servers: []string{"127.0.0.1:1"}}})
	require.NoError(t, err)
	assert.IsType(t, &Memcached{}, m.backend)

	_, err = Open(ctx, cfg.CacheConfiguration{Backend: "apcu"})
	assert.Error(t, err)
}
