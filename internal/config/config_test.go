package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Development(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "DATABASE_URL", "")
	setEnv(t, "STRIPE_SECRET_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultOutboxBatchSize, cfg.OutboxBatchSize)
	assert.Equal(t, DefaultIdempotencyTTL, cfg.IdempotencyTTL)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "DATABASE_URL", "")
	setEnv(t, "STRIPE_SECRET_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid development config",
			config:  Config{Port: "8080", Env: "development", DBStatementTimeout: 30000, OutboxMaxAttempts: 5},
			wantErr: "",
		},
		{
			name:    "bad port",
			config:  Config{Port: "not-a-port", DBStatementTimeout: 30000, OutboxMaxAttempts: 5},
			wantErr: "PORT must be a number",
		},
		{
			name: "production missing stripe key",
			config: Config{
				Port: "8080", Env: "production", DatabaseURL: "postgres://x",
				DBStatementTimeout: 30000, OutboxMaxAttempts: 5,
			},
			wantErr: "STRIPE_SECRET_KEY is required",
		},
		{
			name:    "statement timeout too low",
			config:  Config{Port: "8080", DBStatementTimeout: 10, OutboxMaxAttempts: 5},
			wantErr: "POSTGRES_STATEMENT_TIMEOUT",
		},
		{
			name:    "zero max attempts",
			config:  Config{Port: "8080", DBStatementTimeout: 30000, OutboxMaxAttempts: 0},
			wantErr: "OUTBOX_MAX_ATTEMPTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}
