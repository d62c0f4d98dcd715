package registry

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trovehq/trove/pkg/auth"
)

const permKeyPrefix = "trove:perm:"

// PermissionCache is a short-TTL redis cache of resolved permission levels.
// Only read paths consult it; mutating paths re-resolve against storage so a
// revoked grant takes effect immediately.
type PermissionCache struct {
	client redis.Cmdable
	ttl    time.Duration

	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewPermissionCache creates a cache over the given redis client.
func NewPermissionCache(client redis.Cmdable, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PermissionCache{client: client, ttl: ttl}
}

// WithCounters attaches hit/miss counters.
func (c *PermissionCache) WithCounters(hits, misses prometheus.Counter) *PermissionCache {
	c.hits = hits
	c.misses = misses
	return c
}

func (c *PermissionCache) countHit() {
	if c.hits != nil {
		c.hits.Inc()
	}
}

func (c *PermissionCache) countMiss() {
	if c.misses != nil {
		c.misses.Inc()
	}
}

func permKey(username, resourceID string) string {
	return permKeyPrefix + username + "|" + resourceID
}

// Get returns the cached level for the principal/resource pair. Cache
// errors are treated as misses.
func (c *PermissionCache) Get(ctx context.Context, username, resourceID string) (auth.Level, bool) {
	val, err := c.client.Get(ctx, permKey(username, resourceID)).Result()
	if err != nil {
		c.countMiss()
		return auth.None, false
	}
	level, err := auth.ParseLevel(val)
	if err != nil {
		c.countMiss()
		return auth.None, false
	}
	c.countHit()
	return level, true
}

// Set stores the resolved level. Failures are ignored: the cache is an
// optimization, not a source of truth.
func (c *PermissionCache) Set(ctx context.Context, username, resourceID string, level auth.Level) {
	c.client.Set(ctx, permKey(username, resourceID), level.String(), c.ttl)
}

// Invalidate removes cached entries for a resource after a permission or
// lifecycle change.
func (c *PermissionCache) Invalidate(ctx context.Context, resourceID string) {
	iter := c.client.Scan(ctx, 0, permKeyPrefix+"*|"+resourceID, 100).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}
