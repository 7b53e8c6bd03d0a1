package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	defaultDBProbeTimeout    = 500 * time.Millisecond
	defaultRedisProbeTimeout = 300 * time.Millisecond
)

// Checker probes the dependencies the API cannot serve without.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler exposes the liveness and readiness endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live answers 200 as long as the process is serving requests.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes Postgres and Redis and answers 503 when either fails, with
// the per-dependency result in the body for the load balancer logs.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := map[string]string{
		"db":    probe(ctx, h.Checker.PingDB, h.dbTimeout()),
		"redis": probe(ctx, h.Checker.PingRedis, h.redisTimeout()),
	}
	code := http.StatusOK
	for _, result := range status {
		if result != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func probe(ctx context.Context, ping func(context.Context, time.Duration) error, timeout time.Duration) string {
	if err := ping(ctx, timeout); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return defaultDBProbeTimeout
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return defaultRedisProbeTimeout
	}
	return h.RedisTimeout
}
