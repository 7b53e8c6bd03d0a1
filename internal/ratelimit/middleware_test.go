package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/ratelimit"
)

type stubLimiter struct {
	allowed   bool
	remaining int
	err       error
}

func (s stubLimiter) Allow(context.Context, string, time.Duration, int) (bool, int, time.Time, error) {
	return s.allowed, s.remaining, time.Now().Add(time.Minute), s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllows(t *testing.T) {
	h := ratelimit.Handler{
		Limiter: stubLimiter{allowed: true, remaining: 4},
		Config:  ratelimit.Config{Key: func(*http.Request) string { return "k" }, Window: time.Minute, Max: 5},
	}
	rec := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareBlocks(t *testing.T) {
	h := ratelimit.Handler{
		Limiter: stubLimiter{allowed: false},
		Config:  ratelimit.Config{Key: func(*http.Request) string { return "k" }, Window: time.Minute, Max: 5},
	}
	rec := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	var sawErr error
	h := ratelimit.Handler{
		Limiter: stubLimiter{err: errors.New("redis gone")},
		Config:  ratelimit.Config{Key: func(*http.Request) string { return "k" }, Window: time.Minute, Max: 5},
		OnError: func(err error) { sawErr = err },
	}
	rec := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Error(t, sawErr)
}
