package content

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/systeminit/workspace-engine/snapshot"
)

func newTestCache(t *testing.T) *LayerCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLayerCache(client, time.Minute)
}

func TestLayerCachePutGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	hash := snapshot.ContentHash("abc123")
	cache.Put(ctx, hash, []byte(`{"version":1,"data":{}}`))

	got, ok := cache.Get(ctx, hash)
	require.True(t, ok)
	require.Equal(t, `{"version":1,"data":{}}`, string(got))
}

func TestLayerCacheMissReturnsFalse(t *testing.T) {
	cache := newTestCache(t)
	_, ok := cache.Get(context.Background(), snapshot.ContentHash("never-written"))
	require.False(t, ok)
}

func TestLayerCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	hash := snapshot.ContentHash("to-evict")

	cache.Put(ctx, hash, []byte("payload"))
	_, ok := cache.Get(ctx, hash)
	require.True(t, ok)

	require.NoError(t, cache.Invalidate(ctx, hash))
	_, ok = cache.Get(ctx, hash)
	require.False(t, ok)
}
