package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 50 * time.Millisecond
)

// releaseScript deletes the lock key only when the holder token matches, so
// a worker whose lock expired cannot release a lock another worker now holds.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker provides a Redis-backed distributed lock. The notification worker
// holds one per delivery so replicas never double-send a webhook.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock runs fn while holding the lock for key. Acquisition retries on a
// fixed backoff until the context is cancelled. The lock is released when fn
// returns, whatever its outcome.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer l.release(context.Background(), key, token)
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = defaultLockRetry
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		// Some Redis stand-ins lack EVAL. Fall back to a plain delete.
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
