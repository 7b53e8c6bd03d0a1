package app

import (
	"context"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aoi-nmz/backend-club/internal/config"
	"github.com/aoi-nmz/backend-club/internal/obs"
)

// Dependencies enumerates core services shared across modules to make future
// wiring explicit.
type Dependencies struct {
	Context         context.Context
	Config          *config.Config
	DB              *pgxpool.Pool
	Redis           *redis.Client
	Validator       *validator.Validate
	Limiter         *limiter.Limiter
	LimiterStore    limiter.Store
	TaskClient      *asynq.Client
	MetricsRegistry *prometheus.Registry
	TracerProvider  trace.TracerProvider
	MeterProvider   metric.MeterProvider
}

// Build assembles the shared dependency set from configuration. The caller
// owns the pool and redis client lifetimes and should Close them on shutdown.
func Build(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DBMaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.DBMaxIdleConns)
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	limiterStore, err := NewLimiterStore(rdb)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init limiter store: %w", err)
	}

	deps := &Dependencies{
		Context:      ctx,
		Config:       cfg,
		DB:           pool,
		Redis:        rdb,
		Validator:    validator.New(),
		LimiterStore: limiterStore,
		Limiter: limiter.New(limiterStore, limiter.Rate{
			Period: cfg.LoginRateWindow,
			Limit:  int64(cfg.LoginRateMax),
		}),
		TaskClient:      asynq.NewClient(asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB}),
		MetricsRegistry: prometheus.NewRegistry(),
	}
	return deps, nil
}

// Close releases the connection-holding dependencies.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.TaskClient != nil {
		_ = d.TaskClient.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{})
}

// Tracer returns the default OpenTelemetry tracer for instrumentation hooks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns the default OpenTelemetry meter for instrumentation hooks.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
