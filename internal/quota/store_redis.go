package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares counters across gateway instances. INCRBY gives the
// atomicity the reserve protocol needs; the TTL is applied when the key is
// first created so a period's counter disappears shortly after the period.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a redis-backed counter store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incr quota counter: %w", err)
	}
	if ttl > 0 {
		// Only stamp a TTL on keys that do not have one yet; repeated
		// increments must not push the expiry past the period boundary.
		if err := s.client.ExpireNX(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("expire quota counter: %w", err)
		}
	}
	return val, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get quota counter: %w", err)
	}
	return val, nil
}
