package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Modar-SAD/task-nest/domain"
)

// Cache keeps the last snapshot of each user in Redis. An entry is only
// served while its revision matches the user's current revision.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a snapshot cache using the provided Redis client and TTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{redis: client, ttl: ttl}
}

// Load returns the cached snapshot if it was taken at revision.
func (c *Cache) Load(ctx context.Context, userID string, revision int64) (domain.Snapshot, bool) {
	if c == nil || c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(userID)).Err()
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(userID)).Err()
		return domain.Snapshot{}, false
	}
	if snap.Revision != revision {
		return domain.Snapshot{}, false
	}
	return snap, true
}

// Store caches snap for the user.
func (c *Cache) Store(ctx context.Context, userID string, snap domain.Snapshot) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(userID), data, c.ttl).Err()
}

// Evict drops the cached snapshot.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c == nil || c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, snapshotCacheKey(userID)).Result()
}

func snapshotCacheKey(userID string) string {
	return "snapshot:" + userID
}
