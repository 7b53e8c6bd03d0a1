package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockRunsCallback(t *testing.T) {
	l := newTestLocker(t)

	ran := false
	err := l.WithLock(context.Background(), "lock:test", time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	// released after fn returns, so a second acquire succeeds immediately
	err = l.WithLock(context.Background(), "lock:test", time.Second, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestWithLockMutualExclusion(t *testing.T) {
	l := newTestLocker(t)

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "lock:mutex", time.Second, func(ctx context.Context) error {
				cur := atomic.AddInt32(&inside, 1)
				if cur > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, cur)
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestWithLockContextCancelled(t *testing.T) {
	l := newTestLocker(t)

	require.NoError(t, l.R.Set(context.Background(), "lock:held", "other", time.Minute).Err())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "lock:held", time.Second, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
