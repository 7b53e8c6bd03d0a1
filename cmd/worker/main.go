package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aoi-nmz/backend-club/internal/app"
	"github.com/aoi-nmz/backend-club/internal/config"
	"github.com/aoi-nmz/backend-club/internal/lock"
	"github.com/aoi-nmz/backend-club/internal/notify"
	"github.com/aoi-nmz/backend-club/internal/obs"
	"github.com/aoi-nmz/backend-club/internal/queue"
	"github.com/aoi-nmz/backend-club/internal/resilience"
)

const sweepInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "club"), nil)

	buildCtx, cancelBuild := context.WithTimeout(context.Background(), 5*time.Second)
	deps, err := app.Build(buildCtx, cfg)
	cancelBuild()
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer deps.Close()

	pool := deps.DB
	redisClient := deps.Redis

	dispatcher := &notify.Dispatcher{
		Store: notify.NewStore(pool),
		HTTP: resilience.HTTPClient{
			Client:      notify.HTTPClient(int(cfg.WebhookRequestTimeout / time.Millisecond)),
			Breaker:     resilience.NewBreaker(cfg.CircuitWebhookMinReq, cfg.CircuitWebhookFailureRate, cfg.CircuitWebhookOpenFor),
			BaseBackoff: cfg.QueueBackoffBase,
			MaxAttempts: 2,
			Jitter:      cfg.QueueBackoffJitter,
			Timeout:     cfg.WebhookRequestTimeout,
		},
		Queue:              queue.Enqueuer{R: redisClient, Prefix: cfg.QueueRedisPrefix, DedupTTL: cfg.IdempotencyTTL},
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.WebhookDefaultMaxAttempts,
		Enabled:            cfg.WebhookDeliveryEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	deliveryWorker := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:    cfg.LockTTL,
	}

	worker := queue.Worker{
		R:                 redisClient,
		DLQ:               queue.NewStore(pool),
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              notify.WebhookDeliveryTask(),
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		Handler: func(ctx context.Context, task queue.Task) error {
			return deliveryWorker.Handle(ctx, task.Payload)
		},
		RetryBase:   cfg.QueueBackoffBase,
		RetryJitter: cfg.QueueBackoffJitter,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("kind", notify.WebhookDeliveryTask()).Int("concurrency", cfg.QueueConcurrency).Msg("queue worker starting")
		return worker.Run(gctx)
	})
	g.Go(func() error {
		// Sweeps due deliveries that were scheduled while no enqueue
		// succeeded, so retries survive Redis outages.
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := dispatcher.WorkOnce(gctx, 20); err != nil {
					logger.Warn().Err(err).Msg("delivery sweep failed")
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker exited unexpectedly")
	}
	logger.Info().Msg("worker stopped")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
