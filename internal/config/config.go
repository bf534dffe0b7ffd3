// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string, required in production

	// Payment provider (Stripe)
	StripeSecretKey   string `json:"-"` // excluded from serialization
	StripeWebhookKey  string `json:"-"`

	// Supplier adapters: per-supplier credentials keyed by supplier id,
	// loaded as SUPPLIER_<id>_API_KEY / SUPPLIER_<id>_BASE_URL.
	SupplierMaxRetries int
	SupplierTimeout    time.Duration

	// Outbox dispatcher
	OutboxBatchSize    int
	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
	OutboxLockTimeout  time.Duration

	// Idempotency
	IdempotencyTTL time.Duration

	// Reconciliation
	ReconciliationInterval time.Duration
	ReconciliationStale    time.Duration

	// Secret key used for internal signing (must be >= 32 bytes)
	SigningSecret string `json:"-"`

	// Database pool settings
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	DBConnectTimeout   int // seconds, appended to Postgres DSN
	DBStatementTimeout int // milliseconds, appended to Postgres DSN

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration // global handler execution timeout

	// Commit-protocol deadlines for the external legs
	PaymentTimeout  time.Duration
	SupplierTimeoutDeadline time.Duration

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint (e.g. "localhost:4317"), empty = disabled
}

// Defaults
const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultSupplierMaxRetries = 3
	DefaultSupplierTimeout    = 30 * time.Second

	DefaultOutboxBatchSize    = 50
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 5
	DefaultOutboxLockTimeout  = 5 * time.Minute

	DefaultIdempotencyTTL = 7 * 24 * time.Hour

	DefaultReconciliationInterval = 2 * time.Minute
	DefaultReconciliationStale    = 10 * time.Minute

	// Database pool defaults
	DefaultDBMaxOpenConns     = 5
	DefaultDBMaxIdleConns     = 15 // overflow above the pool's steady size
	DefaultDBConnMaxLifetime  = time.Hour
	DefaultDBConnMaxIdleTime  = 3 * time.Minute
	DefaultDBConnectTimeout   = 5     // seconds
	DefaultDBStatementTimeout = 30000 // milliseconds (30s)

	// HTTP server timeout defaults
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 35 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second

	DefaultPaymentTimeout  = 20 * time.Second
	DefaultSupplierTimeout2 = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		StripeSecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookKey: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		SupplierMaxRetries: int(getEnvInt64("SUPPLIER_MAX_RETRIES", int64(DefaultSupplierMaxRetries))),
		SupplierTimeout:    getEnvDuration("SUPPLIER_TIMEOUT", DefaultSupplierTimeout),

		OutboxBatchSize:    int(getEnvInt64("OUTBOX_BATCH_SIZE", int64(DefaultOutboxBatchSize))),
		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", DefaultOutboxPollInterval),
		OutboxMaxAttempts:  int(getEnvInt64("OUTBOX_MAX_ATTEMPTS", int64(DefaultOutboxMaxAttempts))),
		OutboxLockTimeout:  getEnvDuration("OUTBOX_LOCK_TIMEOUT", DefaultOutboxLockTimeout),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),

		ReconciliationInterval: getEnvDuration("RECONCILIATION_INTERVAL", DefaultReconciliationInterval),
		ReconciliationStale:    getEnvDuration("RECONCILIATION_STALE_AFTER", DefaultReconciliationStale),

		SigningSecret: os.Getenv("SIGNING_SECRET"),

		DBMaxOpenConns:     int(getEnvInt64("POSTGRES_MAX_OPEN_CONNS", int64(DefaultDBMaxOpenConns))),
		DBMaxIdleConns:     int(getEnvInt64("POSTGRES_MAX_IDLE_CONNS", int64(DefaultDBMaxIdleConns))),
		DBConnMaxLifetime:  getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime:  getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBConnectTimeout:   int(getEnvInt64("POSTGRES_CONNECT_TIMEOUT", int64(DefaultDBConnectTimeout))),
		DBStatementTimeout: int(getEnvInt64("POSTGRES_STATEMENT_TIMEOUT", int64(DefaultDBStatementTimeout))),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),

		PaymentTimeout:          getEnvDuration("PAYMENT_TIMEOUT", DefaultPaymentTimeout),
		SupplierTimeoutDeadline: getEnvDuration("SUPPLIER_CALL_TIMEOUT", DefaultSupplierTimeout2),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookKey == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if len(c.SigningSecret) < 32 {
			return fmt.Errorf("SIGNING_SECRET must be at least 32 bytes in production")
		}
	}

	if c.DBStatementTimeout < 1000 {
		return fmt.Errorf("POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms, got %d", c.DBStatementTimeout)
	}

	if c.HTTPWriteTimeout > 0 && c.RequestTimeout > 0 && c.HTTPWriteTimeout < c.RequestTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= REQUEST_TIMEOUT (%v)", c.HTTPWriteTimeout, c.RequestTimeout)
	}

	if c.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1, got %d", c.OutboxMaxAttempts)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
