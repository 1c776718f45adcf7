package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revisions tracks a monotonic write counter per user.
type Revisions interface {
	Current(ctx context.Context, userID string) (int64, error)
	Bump(ctx context.Context, userID string) (int64, error)
}

// RedisRevisions keeps revisions in Redis so every API instance agrees.
// A missing counter is seeded from the clock in milliseconds, so a counter
// lost to a Redis restart or eviction resumes above every value handed out
// before.
type RedisRevisions struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisRevisions(client *redis.Client) *RedisRevisions {
	return &RedisRevisions{redis: client, now: time.Now}
}

func (r *RedisRevisions) Current(ctx context.Context, userID string) (int64, error) {
	key := revisionKey(userID)
	n, err := r.redis.Get(ctx, key).Int64()
	if !errors.Is(err, redis.Nil) {
		return n, err
	}
	if err := r.redis.SetNX(ctx, key, r.seed(), 0).Err(); err != nil {
		return 0, err
	}
	return r.redis.Get(ctx, key).Int64()
}

func (r *RedisRevisions) Bump(ctx context.Context, userID string) (int64, error) {
	key := revisionKey(userID)
	var incr *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, r.seed(), 0)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RedisRevisions) seed() int64 {
	return r.now().UnixMilli()
}

func revisionKey(userID string) string {
	return "revision:" + userID
}

// MemoryRevisions keeps revisions in process memory.
type MemoryRevisions struct {
	mu   sync.Mutex
	revs map[string]int64
}

func NewMemoryRevisions() *MemoryRevisions {
	return &MemoryRevisions{revs: map[string]int64{}}
}

func (m *MemoryRevisions) Current(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revs[userID], nil
}

func (m *MemoryRevisions) Bump(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revs[userID]++
	return m.revs[userID], nil
}
