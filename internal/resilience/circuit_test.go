package resilience

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(4, 0.5, time.Minute).WithTarget("webhook")

	b.Report(ctx, true)
	b.Report(ctx, false)
	b.Report(ctx, false)
	require.True(t, b.Allow(ctx), "still below min requests")

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx), "ratio 3/4 should open the breaker")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(1, 0.5, 10*time.Millisecond)

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx))

	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow(ctx), "cool-off elapsed, probe admitted")

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx), "failed probe reopens")

	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, true)
	require.True(t, b.Allow(ctx), "successful probe closes")
}

func TestBackoffGrowsExponentially(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, Backoff(base, 1, 0))
	require.Equal(t, 2*base, Backoff(base, 2, 0))
	require.Equal(t, 4*base, Backoff(base, 3, 0))

	jittered := Backoff(base, 3, 0.2)
	require.GreaterOrEqual(t, jittered, 320*time.Millisecond)
	require.LessOrEqual(t, jittered, 480*time.Millisecond)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cl := HTTPClient{
		Client:      srv.Client(),
		Breaker:     NewBreaker(10, 0.9, time.Minute),
		BaseBackoff: time.Millisecond,
		MaxAttempts: 3,
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClientOpenBreakerShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	b := NewBreaker(1, 0.5, time.Minute)
	b.Report(context.Background(), false)

	cl := HTTPClient{Client: srv.Client(), Breaker: b, MaxAttempts: 3, BaseBackoff: time.Millisecond}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = cl.Do(context.Background(), req)
	require.ErrorIs(t, err, ErrOpenCircuit)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
