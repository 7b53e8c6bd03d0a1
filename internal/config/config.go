package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	CORSAllowedOrigins []string

	// Tenant resolution
	StoreHeaderName string
	RootDomain      string
	DefaultStore    string

	// Auth
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Caching / idempotency
	SettingsCacheTTL time.Duration
	ReportCacheTTL   time.Duration
	IdempotencyTTL   time.Duration

	// Listing defaults
	SessionDefaultLimit int
	SessionMaxLimit     int

	// Rate limiting
	LoginRateWindow time.Duration
	LoginRateMax    int

	// Request hardening
	MaxBodyBytes int64

	// Webhook notification delivery
	WebhookDeliveryEnabled    bool
	WebhookRequestTimeout     time.Duration
	WebhookAllowInsecureTLS   bool
	WebhookBackoffBaseSec     int
	WebhookDefaultMaxAttempts int
	WebhookReplayTTL          time.Duration

	// Receipt email notifications
	NotifyEmailEnabled bool
	NotifyEmailFrom    string

	// Queue / worker
	QueueRedisPrefix       string
	QueueMaxAttempts       int
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64

	// Distributed locking
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	// Outbound resilience
	CircuitWebhookMinReq      int
	CircuitWebhookFailureRate float64
	CircuitWebhookOpenFor     time.Duration

	// Audit trail
	AuditEnabled      bool
	AuditSamplingRate float64

	// Database pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),
		JWTSecret:   k.String("JWT_SECRET"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StoreHeaderName: valueOrDefault(k.String("TENANT_STORE_HEADER"), "X-Store-ID"),
		RootDomain:      strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
		DefaultStore:    strings.TrimSpace(k.String("TENANT_DEFAULT_STORE")),

		AccessTokenTTL:  parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		RefreshTokenTTL: parseDuration(k.String("REFRESH_TOKEN_TTL"), "720h"),

		SettingsCacheTTL: parseDuration(k.String("SETTINGS_CACHE_TTL"), "5m"),
		ReportCacheTTL:   parseDuration(k.String("REPORT_CACHE_TTL"), "10m"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		SessionDefaultLimit: parseInt(k.String("SESSION_DEFAULT_LIMIT"), 20),
		SessionMaxLimit:     parseInt(k.String("SESSION_MAX_LIMIT"), 100),

		LoginRateWindow: parseDuration(k.String("LOGIN_RATE_WINDOW"), "1m"),
		LoginRateMax:    parseInt(k.String("LOGIN_RATE_MAX"), 10),

		MaxBodyBytes: int64(parseInt(k.String("SECURE_MAX_BODY_BYTES"), 1<<20)),

		WebhookDeliveryEnabled:    parseBool(k.String("WEBHOOK_DELIVERY_ENABLED"), true),
		WebhookRequestTimeout:     parseDuration(k.String("WEBHOOK_REQUEST_TIMEOUT"), "5s"),
		WebhookAllowInsecureTLS:   parseBool(k.String("WEBHOOK_ALLOW_INSECURE_TLS"), false),
		WebhookBackoffBaseSec:     parseInt(k.String("WEBHOOK_BACKOFF_BASE_SEC"), 30),
		WebhookDefaultMaxAttempts: parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 6),
		WebhookReplayTTL:          parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "10m"),

		NotifyEmailEnabled: parseBool(k.String("NOTIFY_EMAIL_ENABLED"), false),
		NotifyEmailFrom:    strings.TrimSpace(k.String("NOTIFY_EMAIL_FROM")),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "club"),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 10),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "200ms"),
		QueueBackoffJitter:     parseFloat(k.String("QUEUE_BACKOFF_JITTER"), 0.2),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		CircuitWebhookMinReq:      parseInt(k.String("CIRCUIT_WEBHOOK_MIN_REQ"), 10),
		CircuitWebhookFailureRate: parseFloat(k.String("CIRCUIT_WEBHOOK_FAILURE_RATE"), 0.5),
		CircuitWebhookOpenFor:     parseDuration(k.String("CIRCUIT_WEBHOOK_OPEN_FOR"), "30s"),

		AuditEnabled:      parseBool(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),

		DBMaxOpenConns: parseInt(k.String("DB_MAX_OPEN_CONNS"), 0),
		DBMaxIdleConns: parseInt(k.String("DB_MAX_IDLE_CONNS"), 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
