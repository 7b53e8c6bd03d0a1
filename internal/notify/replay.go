package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const replaySentinel = "claimed"

// RedisReplayProtector guards webhook deliveries against double execution
// when the same delivery is picked up by both the queue worker and the
// periodic sweeper. A nil client degrades to no protection rather than
// blocking deliveries.
type RedisReplayProtector struct {
	Client *redis.Client
}

// Acquire claims the delivery key for the duration of the TTL. The claim is
// first-writer-wins via SETNX.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, replaySentinel, ttl).Result()
}

// Release drops the claim so a failed delivery can be retried early.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}
