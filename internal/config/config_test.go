package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("CYCLE_INTERVAL", "5m")
	t.Setenv("HIT_MULTIPLIER_THRESHOLD", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "staging-processing-lock", cfg.LockKey())
	assert.Equal(t, 25, cfg.Cycle.BatchSize)
	assert.Equal(t, 8, cfg.Cycle.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.Cycle.Interval)
	assert.True(t, cfg.Cycle.HitThreshold.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 48*time.Hour, cfg.Cycle.Retention, "staging keeps two days of picks")
	assert.Equal(t, 7*time.Minute, cfg.Cache.TTL, "cache TTL defaults to interval plus slack")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "production-processing-lock", cfg.LockKey())
	assert.Equal(t, 50, cfg.Cycle.BatchSize)
	assert.Equal(t, 4, cfg.Cycle.WorkerCount)
	assert.Equal(t, 3*time.Minute, cfg.Cycle.LockTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Cycle.Retention)
	assert.True(t, cfg.Cycle.HitThreshold.Equal(decimal.NewFromInt(2)))
	assert.Greater(t, cfg.Cache.TTL, cfg.Cycle.Interval)
	assert.Equal(t, []string{"social.token_pick"}, cfg.Notify.ListenChannels)
	assert.Zero(t, cfg.Provider.CUBudget, "budget tracking is off unless configured")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Cycle: CycleConfig{
				Interval:       time.Minute,
				LockTTL:        time.Minute,
				BatchSize:      50,
				WorkerCount:    4,
				HitThreshold:   decimal.NewFromInt(2),
				StorageTimeout: 15 * time.Second,
			},
			Provider: ProviderConfig{RetryAttempts: 3, Timeout: 10 * time.Second},
			Cache:    CacheConfig{TTL: 2 * time.Minute, Timeout: 3 * time.Second},
			Notify:   NotifyConfig{Mode: "direct"},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero batch", func(c *Config) { c.Cycle.BatchSize = 0 }, "BATCH_SIZE"},
		{"zero workers", func(c *Config) { c.Cycle.WorkerCount = 0 }, "WORKER_COUNT"},
		{"non-positive threshold", func(c *Config) { c.Cycle.HitThreshold = decimal.Zero }, "HIT_MULTIPLIER_THRESHOLD"},
		{"cache ttl shorter than interval", func(c *Config) { c.Cache.TTL = 30 * time.Second }, "CACHE_TTL"},
		{"zero storage timeout", func(c *Config) { c.Cycle.StorageTimeout = 0 }, "STORAGE_TIMEOUT"},
		{"negative cache timeout", func(c *Config) { c.Cache.Timeout = -time.Second }, "CACHE_TIMEOUT"},
		{"zero provider timeout", func(c *Config) { c.Provider.Timeout = 0 }, "PROVIDER_TIMEOUT"},
		{"unknown notify mode", func(c *Config) { c.Notify.Mode = "kafka" }, "NOTIFY_MODE"},
		{"reserved cu above budget", func(c *Config) { c.Provider.CUBudget = 50; c.Provider.CUReserved = 60 }, "PROVIDER_CU_RESERVED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"returns integer when valid", "200", 100, 200},
		{"returns default when invalid", "invalid", 100, 100},
		{"returns default when not set", "", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT", tt.defaultValue))
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "30s")
	assert.Equal(t, 30*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))

	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
}

func TestGetEnvAsDecimalAndBool(t *testing.T) {
	t.Setenv("TEST_DEC", "0.04")
	assert.True(t, getEnvAsDecimal("TEST_DEC", decimal.Zero).Equal(decimal.RequireFromString("0.04")))

	t.Setenv("TEST_BOOL", "false")
	assert.False(t, getEnvAsBool("TEST_BOOL", true))

	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, getEnvAsBool("TEST_BOOL", true))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
