package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sq, err := NewSQLiteCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	mem := NewMemoryCache(100)
	t.Cleanup(func() { mem.Close() })
	all := map[string]Backend{"memory": mem, "sqlite": sq}

	// Redis runs only against a real server: REDIS_TEST_URL=redis://localhost:6379/15
	if url := os.Getenv("REDIS_TEST_URL"); url != "" {
		rc, err := NewRedisCache(url, "feedtest:"+uuid.NewString()+":")
		require.NoError(t, err)
		t.Cleanup(func() { rc.Close() })
		all["redis"] = rc
	}
	return all
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set(ctx, "a", []byte("1"), 0))
			require.NoError(t, b.SetMultiple(ctx, map[string][]byte{"b": []byte("2"), "c": []byte("3")}, time.Hour))

			v, ok, err := b.Get(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("1"), v)

			got, err := b.GetMultiple(ctx, []string{"a", "b", "zzz", "c"})
			require.NoError(t, err)
			assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}, got)

			require.NoError(t, b.Set(ctx, "a", []byte("updated"), 0))
			v, _, _ = b.Get(ctx, "a")
			assert.Equal(t, []byte("updated"), v)

			require.NoError(t, b.Delete(ctx, "a"))
			_, ok, _ = b.Get(ctx, "a")
			assert.False(t, ok)
		})
	}
}

func TestBackendExpiry(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Set(ctx, "short", []byte("x"), time.Millisecond))
			time.Sleep(5 * time.Millisecond)
			_, ok, err := b.Get(ctx, "short")
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := b.GetMultiple(ctx, []string{"short"})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestMemoryCacheBounded(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(2)
	require.NoError(t, mem.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, mem.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, mem.Set(ctx, "c", []byte("3"), 0))
	assert.Equal(t, 2, mem.Len())
	_, ok, _ := mem.Get(ctx, "a")
	assert.False(t, ok, "least recently used entry is evicted")
}

func TestSQLitePruneAndClose(t *testing.T) {
	ctx := context.Background()
	sq, err := NewSQLiteCache(":memory:")
	require.NoError(t, err)

	require.NoError(t, sq.Set(ctx, "old", []byte("x"), time.Millisecond))
	require.NoError(t, sq.Set(ctx, "keep", []byte("y"), 0))
	time.Sleep(5 * time.Millisecond)

	n, err := sq.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, sq.Close())
	_, _, err = sq.Get(ctx, "keep")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

type profile struct {
	Name string `json:"name"`
}

func TestTyped(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(10)
	store := NewTyped[profile](mem, "profile:", time.Hour)

	require.NoError(t, store.Set(ctx, "alice", profile{Name: "Alice"}))
	require.NoError(t, mem.Set(ctx, "profile:broken", []byte("{not json"), 0))

	p, ok, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", p.Name)

	_, ok, err = store.Get(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetMultiple(ctx, []string{"alice", "broken", "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]profile{"alice": {Name: "Alice"}}, got)

	raw, ok, _ := mem.Get(ctx, "profile:alice")
	assert.True(t, ok)
	assert.JSONEq(t, `{"name":"Alice"}`, string(raw))
}

func TestOpen(t *testing.T) {
	b, err := Open(Config{Backend: BackendMemory, MaxEntries: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, b)

	b, err = Open(Config{Backend: BackendSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteCache{}, b)
	b.Close()

	_, err = Open(Config{Backend: BackendRedis})
	assert.Error(t, err)

	_, err = Open(Config{Backend: "etcd"})
	assert.Error(t, err)
}
