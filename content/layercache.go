package content

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/systeminit/workspace-engine/snapshot"
)

// LayerCache is the fast local tier in front of the durable content store.
// Store.Write writes the durable tier synchronously and fills this cache
// afterwards; nothing is promoted asynchronously. Readers check the cache
// before the durable tier.
//
// Grounded on db/dragonflydb.go's redis-protocol key/value helpers,
// generalized into a long-lived client (the teacher opened a fresh
// connection per call) and given a bounded TTL so the cache cannot grow
// without limit.
type LayerCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// NewLayerCache wires a redis-compatible client (DragonflyDB in production,
// miniredis in tests) as the fast tier, with entries expiring after ttl.
func NewLayerCache(client *redis.Client, ttl time.Duration) *LayerCache {
	return &LayerCache{
		client: client,
		ttl:    ttl,
		log:    logrus.WithField("component", "content.layercache"),
	}
}

// Get returns the cached encoded envelope for hash, if present.
func (c *LayerCache) Get(ctx context.Context, hash snapshot.ContentHash) ([]byte, bool) {
	b, err := c.client.Get(ctx, cacheKey(hash)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).WithField("hash", hash).Warn("layer cache read failed, falling through to durable tier")
		return nil, false
	}
	return b, true
}

// Put writes encoded into the fast tier. Promotion to the durable tier has
// already happened synchronously in Store.Write by the time Put is called;
// here Put only populates the read-through cache, so a failure is logged
// and swallowed rather than propagated.
func (c *LayerCache) Put(ctx context.Context, hash snapshot.ContentHash, encoded []byte) {
	if err := c.client.Set(ctx, cacheKey(hash), encoded, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("hash", hash).Warn("layer cache write failed")
	}
}

// Invalidate removes hash from the fast tier, used when a node's content is
// overwritten at the same hash due to an upstream bug (hashes are supposed
// to be stable, but a corrupt cache entry should not be permanent).
func (c *LayerCache) Invalidate(ctx context.Context, hash snapshot.ContentHash) error {
	return c.client.Del(ctx, cacheKey(hash)).Err()
}

func cacheKey(hash snapshot.ContentHash) string {
	return "content:" + string(hash)
}
