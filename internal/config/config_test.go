package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTP_VERIFIED_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddress())
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 60*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.OTP.LockDuration)
	assert.Equal(t, "+49", cfg.OTP.CountryCode)
	assert.Equal(t, "redis", cfg.OTP.StoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.Proof.TTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Clickhouse.Enabled)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OTP_VERIFIED_SECRET", "test-secret")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("OTP_TTL_MINUTES", "5")
	t.Setenv("OTP_MAX_ATTEMPTS", "5")
	t.Setenv("OTP_STORE_BACKEND", "scylla")
	t.Setenv("OTP_COUNTRY_CODE", "+32")
	t.Setenv("SCYLLA_NODES", "node1:9042, node2:9042")
	t.Setenv("KAFKA_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, "scylla", cfg.OTP.StoreBackend)
	assert.Equal(t, "+32", cfg.OTP.CountryCode)
	assert.Equal(t, []string{"node1:9042", "node2:9042"}, cfg.Scylla.Nodes)
	assert.True(t, cfg.Kafka.Enabled)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing proof secret", map[string]string{}},
		{"bad store backend", map[string]string{
			"OTP_VERIFIED_SECRET": "test-secret",
			"OTP_STORE_BACKEND":   "memcached",
		}},
		{"zero max attempts", map[string]string{
			"OTP_VERIFIED_SECRET": "test-secret",
			"OTP_MAX_ATTEMPTS":    "0",
		}},
		{"country code without plus", map[string]string{
			"OTP_VERIFIED_SECRET": "test-secret",
			"OTP_COUNTRY_CODE":    "49",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SOME_INT", "not-an-int")
	assert.Equal(t, 42, getEnvInt("SOME_INT", 42), "unparseable values fall back to the default")

	t.Setenv("SOME_BOOL", "not-a-bool")
	assert.True(t, getEnvBool("SOME_BOOL", true))

	t.Setenv("SOME_DURATION", "eleven seconds")
	assert.Equal(t, time.Minute, getEnvDuration("SOME_DURATION", time.Minute))
}
