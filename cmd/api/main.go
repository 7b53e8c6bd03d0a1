package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/aoi-nmz/backend-club/internal/app"
	"github.com/aoi-nmz/backend-club/internal/audit"
	"github.com/aoi-nmz/backend-club/internal/auth"
	"github.com/aoi-nmz/backend-club/internal/cache"
	"github.com/aoi-nmz/backend-club/internal/cast"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/config"
	"github.com/aoi-nmz/backend-club/internal/db"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/health"
	"github.com/aoi-nmz/backend-club/internal/notify"
	"github.com/aoi-nmz/backend-club/internal/obs"
	"github.com/aoi-nmz/backend-club/internal/order"
	"github.com/aoi-nmz/backend-club/internal/queue"
	"github.com/aoi-nmz/backend-club/internal/ratelimit"
	"github.com/aoi-nmz/backend-club/internal/report"
	"github.com/aoi-nmz/backend-club/internal/resilience"
	"github.com/aoi-nmz/backend-club/internal/security"
	"github.com/aoi-nmz/backend-club/internal/session"
	"github.com/aoi-nmz/backend-club/internal/settings"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "club")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "club-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer deps.Close()

	pool := deps.DB
	redisClient := deps.Redis
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}

	resolver := tenant.NewResolver(cfg.StoreHeaderName, cfg.RootDomain, cfg.DefaultStore)
	registry := &tenant.Registry{Pool: pool, Cache: redisClient, TTL: 5 * time.Minute}

	authService, err := auth.NewService(auth.Config{
		Store:           auth.NewStore(pool),
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{Service: authService, Validate: deps.Validator}
	authMiddleware := auth.Middleware{Service: authService}

	enqueuer := queue.Enqueuer{R: redisClient, Prefix: cfg.QueueRedisPrefix, DedupTTL: cfg.IdempotencyTTL}
	notifyStore := notify.NewStore(pool)
	dispatcher := &notify.Dispatcher{
		Store: notifyStore,
		HTTP: resilience.HTTPClient{
			Client:      notify.HTTPClient(int(cfg.WebhookRequestTimeout / time.Millisecond)),
			Breaker:     resilience.NewBreaker(cfg.CircuitWebhookMinReq, cfg.CircuitWebhookFailureRate, cfg.CircuitWebhookOpenFor),
			BaseBackoff: cfg.QueueBackoffBase,
			MaxAttempts: 2,
			Jitter:      cfg.QueueBackoffJitter,
			Timeout:     cfg.WebhookRequestTimeout,
		},
		Queue:              enqueuer,
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.WebhookDefaultMaxAttempts,
		Enabled:            cfg.WebhookDeliveryEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	emailNotifier := notify.EmailNotifier{
		Mail:    common.NopEmailSender{},
		Enabled: cfg.NotifyEmailEnabled,
		From:    cfg.NotifyEmailFrom,
	}
	bus := &events.Bus{
		Store:     events.NewStore(pool),
		Scheduler: dispatcher,
		Notifiers: []events.Notifier{emailNotifier},
	}

	settingsService := settings.NewService(settings.ServiceConfig{
		Store:  settings.NewStore(pool),
		Cache:  cache.NewJSON(redisClient, cfg.SettingsCacheTTL),
		Logger: logger,
	})
	settingsHandler := settings.NewHandler(settings.HandlerConfig{Service: settingsService, Validate: deps.Validator})

	orderService := order.NewService(order.ServiceConfig{
		Store:  order.NewStore(pool),
		Bus:    bus,
		Logger: logger,
	})
	orderHandler := order.NewHandler(order.HandlerConfig{Service: orderService, Validate: deps.Validator})

	sessionService := session.NewService(session.ServiceConfig{
		Store:    session.NewStore(pool),
		Orders:   orderService,
		Settings: settingsService,
		Bus:      bus,
		Logger:   logger,
	})
	sessionHandler := session.NewHandler(session.HandlerConfig{
		Service:  sessionService,
		Validate: deps.Validator,
		PageSize: cfg.SessionDefaultLimit,
	})

	castService := cast.NewService(cast.ServiceConfig{
		Store:  cast.NewStore(pool),
		Bus:    bus,
		Logger: logger,
	})
	castHandler := cast.NewHandler(cast.HandlerConfig{Service: castService, Validate: deps.Validator})

	reportService := report.NewService(report.ServiceConfig{
		Store:  report.NewStore(pool),
		Cache:  cache.NewJSON(redisClient, cfg.ReportCacheTTL),
		Logger: logger,
	})
	reportHandler := report.NewHandler(report.HandlerConfig{Service: reportService})

	notifyAdmin := &notify.AdminHandler{Store: notifyStore, Disp: dispatcher}
	queueAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(pool),
		Queue:             enqueuer,
		Logger:            logger,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}
	auditStore := audit.NewStore(pool)
	auditRecorder := &audit.Recorder{Store: auditStore, Logger: logger}
	auditHandler := audit.NewHandler(audit.HandlerConfig{Store: auditStore})

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	loginLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return "login:" + common.ClientIP(r) },
			Window: cfg.LoginRateWindow,
			Max:    cfg.LoginRateMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", cfg.StoreHeaderName},
		ExposedHeaders:   []string{"X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(resolver.Middleware)
		v.Use(registry.Middleware)

		v.Route("/auth", func(a chi.Router) {
			a.With(loginLimiter.Middleware).Post("/login", authHandler.Login)
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)
			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)
			})
		})

		v.Group(func(operator chi.Router) {
			operator.Use(authMiddleware.RequireAuth)
			if cfg.AuditEnabled {
				operator.Use(auditRecorder.Middleware)
			}

			operator.Route("/table-sessions", func(ts chi.Router) {
				ts.Get("/", sessionHandler.List)
				ts.With(idem.Middleware).Post("/", sessionHandler.Open)
				ts.Route("/{id}", func(one chi.Router) {
					one.Get("/", sessionHandler.Get)
					one.Get("/bill", sessionHandler.Bill)
					one.Patch("/guests", sessionHandler.UpdateGuests)
					one.Post("/assignments", sessionHandler.Assign)
					one.Delete("/assignments/{assignmentID}", sessionHandler.Unassign)
					one.Post("/close", sessionHandler.Close)

					one.Get("/orders", orderHandler.List)
					one.With(idem.Middleware).Post("/orders", orderHandler.Add)
					one.Delete("/orders/{orderID}", orderHandler.Remove)
				})
			})

			operator.Route("/casts", func(c chi.Router) {
				c.Get("/", castHandler.List)
				c.Post("/", castHandler.Create)
				c.Patch("/{id}", castHandler.Update)
				c.Post("/{id}/attendance/clock-in", castHandler.ClockIn)
				c.Post("/{id}/attendance/clock-out", castHandler.ClockOut)
			})
			operator.Get("/attendance", castHandler.Attendance)

			operator.Route("/settings", func(s chi.Router) {
				s.Use(authMiddleware.RequireRole(auth.RoleAdmin))
				s.Get("/billing", settingsHandler.Get)
				s.Put("/billing", settingsHandler.Update)
			})

			operator.With(authMiddleware.RequireRole(auth.RoleManager)).
				Get("/reports/sales", reportHandler.Sales)

			operator.Route("/admin", func(admin chi.Router) {
				admin.Use(authMiddleware.RequireRole(auth.RoleAdmin))
				admin.Post("/staff", authHandler.CreateStaff)
				admin.Get("/audit-log", auditHandler.List)

				admin.Post("/webhooks", notifyAdmin.CreateEndpoint)
				admin.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
				admin.Get("/webhooks", notifyAdmin.ListEndpoints)
				admin.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
				admin.Get("/webhook-deliveries", notifyAdmin.ListDeliveries)
				admin.Post("/webhook-deliveries/{id}/replay", notifyAdmin.ReplayDelivery)

				admin.Get("/queue/dlq", queueAdmin.ListDLQ)
				admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
				admin.Get("/queue/stats", queueAdmin.Stats)
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallbackMs int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(fallbackMs) * time.Millisecond
}
