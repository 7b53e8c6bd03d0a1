package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/health"
)

type fakeChecker struct {
	dbErr    error
	redisErr error
}

func (c fakeChecker) PingDB(context.Context, time.Duration) error    { return c.dbErr }
func (c fakeChecker) PingRedis(context.Context, time.Duration) error { return c.redisErr }

func TestLiveAlwaysOK(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{}.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReadyOK(t *testing.T) {
	h := health.Handler{Checker: fakeChecker{}}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"db":"ok"`)
}

func TestReadyDegraded(t *testing.T) {
	h := health.Handler{Checker: fakeChecker{redisErr: errors.New("redis down")}}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis down")
}

func TestReadyWithoutChecker(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{}.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
