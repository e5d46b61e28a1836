package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces limiter counters in the shared Redis instance.
const redisKeyPrefix = "login_attempts:"

// RedisStore is a CounterStore backed by a shared Redis instance. INCR is
// atomic, so counts stay correct across replicas -- this is the
// production-tier store the in-memory limiter is documented to swap with.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a counter store on the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Hit implements CounterStore. The window is fixed at the first hit via
// EXPIRE NX, so the counter resets window-duration after the first attempt
// regardless of how many follow.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	redisKey := redisKeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.TTL(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("incrementing login attempt counter: %w", err)
	}

	resetIn := ttl.Val()
	if resetIn < 0 {
		// TTL can report -1 if EXPIRE raced; treat as a fresh full window.
		resetIn = window
	}

	return int(incr.Val()), resetIn, nil
}
