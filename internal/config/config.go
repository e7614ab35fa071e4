// Package config provides configuration management for the pick aggregation engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Environment string
	InstanceID  string
	Cycle       CycleConfig
	Provider    ProviderConfig
	Qualify     QualifyConfig
	Cache       CacheConfig
	Notify      NotifyConfig
	Database    DatabaseConfig
	Ops         OpsConfig
	Logging     LoggingConfig
}

// CycleConfig holds scheduler, lock and worker pool configuration
type CycleConfig struct {
	Interval       time.Duration
	LockTTL        time.Duration
	ShutdownGrace  time.Duration
	BatchSize      int
	WorkerCount    int
	Retention      time.Duration
	HitThreshold   decimal.Decimal
	StorageTimeout time.Duration
}

// LockKey returns the cross-instance cycle lock key
func (c *Config) LockKey() string {
	return fmt.Sprintf("%s-processing-lock", c.Environment)
}

// ProviderConfig holds market-data provider configuration
type ProviderConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	RetryAttempts     int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// CUBudget is the provider compute-unit budget per CUWindow shared with other
	// services on the same API key. Zero disables budget tracking.
	CUBudget   int
	CUReserved int
	CUWindow   time.Duration
}

// QualifyConfig holds the leaderboard qualification gate
type QualifyConfig struct {
	Enabled              bool
	MinMarketCap         decimal.Decimal
	LiquidityRatio       decimal.Decimal
	LargeCap             decimal.Decimal
	LargeCapMinLiquidity decimal.Decimal
}

// CacheConfig holds projection cache configuration
type CacheConfig struct {
	TTL     time.Duration
	Timeout time.Duration
}

// NotifyConfig holds event sink configuration
type NotifyConfig struct {
	Mode           string // direct or listen
	ListenChannels []string
	Stream         string
	StreamMaxLen   int64
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection string in key/value form
func (p *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		p.Host, p.Port, p.User, p.Password, p.Database, p.MaxConnections,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// OpsConfig holds the operational HTTP server configuration
type OpsConfig struct {
	Host         string
	Port         string
	TriggerRPS   float64
	TriggerBurst int
	// CycleWriteTimeout bounds the response of a synchronous cycle trigger
	CycleWriteTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	environment := getEnv("ENVIRONMENT", "production")
	retentionDefault := 30 * 24 * time.Hour
	if environment == "staging" {
		retentionDefault = 2 * 24 * time.Hour
	}

	interval := getEnvAsDuration("CYCLE_INTERVAL", 10*time.Minute)

	config := &Config{
		Environment: environment,
		InstanceID:  getEnv("INSTANCE_ID", defaultInstanceID()),
		Cycle: CycleConfig{
			Interval:       interval,
			LockTTL:        getEnvAsDuration("CYCLE_LOCK_TTL", 3*time.Minute),
			ShutdownGrace:  getEnvAsDuration("CYCLE_SHUTDOWN_GRACE", 20*time.Second),
			BatchSize:      getEnvAsInt("BATCH_SIZE", 50),
			WorkerCount:    getEnvAsInt("WORKER_COUNT", 4),
			Retention:      getEnvAsDuration("PICK_RETENTION", retentionDefault),
			HitThreshold:   getEnvAsDecimal("HIT_MULTIPLIER_THRESHOLD", decimal.NewFromInt(2)),
			StorageTimeout: getEnvAsDuration("STORAGE_TIMEOUT", 15*time.Second),
		},
		Provider: ProviderConfig{
			BaseURL:           getEnv("PROVIDER_BASE_URL", "https://public-api.birdeye.so"),
			APIKey:            getEnv("PROVIDER_API_KEY", ""),
			Timeout:           getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvAsFloat("PROVIDER_RPS", 15),
			RetryAttempts:     getEnvAsInt("PROVIDER_RETRY_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("PROVIDER_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			RetryMaxDelay:     getEnvAsDuration("PROVIDER_RETRY_MAX_DELAY", 5*time.Second),
			CUBudget:          getEnvAsInt("PROVIDER_CU_BUDGET", 0),
			CUReserved:        getEnvAsInt("PROVIDER_CU_RESERVED", 40),
			CUWindow:          getEnvAsDuration("PROVIDER_CU_WINDOW", time.Second),
		},
		Qualify: QualifyConfig{
			Enabled:              getEnvAsBool("QUALIFY_ENABLED", true),
			MinMarketCap:         getEnvAsDecimal("QUALIFY_MIN_MARKET_CAP", decimal.NewFromInt(40_000)),
			LiquidityRatio:       getEnvAsDecimal("QUALIFY_LIQUIDITY_RATIO", decimal.RequireFromString("0.04")),
			LargeCap:             getEnvAsDecimal("QUALIFY_LARGE_CAP", decimal.NewFromInt(1_000_000)),
			LargeCapMinLiquidity: getEnvAsDecimal("QUALIFY_LARGE_CAP_MIN_LIQUIDITY", decimal.NewFromInt(40_000)),
		},
		Cache: CacheConfig{
			// Outlives one interval so a late cycle does not expire every key at once.
			TTL:     getEnvAsDuration("CACHE_TTL", interval+2*time.Minute),
			Timeout: getEnvAsDuration("CACHE_TIMEOUT", 3*time.Second),
		},
		Notify: NotifyConfig{
			Mode:           getEnv("NOTIFY_MODE", "direct"),
			ListenChannels: splitList(getEnv("PG_LISTEN_CHANNELS", "social.token_pick")),
			Stream:         getEnv("EVENT_STREAM", "pick-aggregator:events"),
			StreamMaxLen:   int64(getEnvAsInt("EVENT_STREAM_MAXLEN", 100_000)),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "social"),
				User:           getEnv("POSTGRES_USER", "social"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "social"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
		},
		Ops: OpsConfig{
			Host:              getEnv("OPS_HOST", "0.0.0.0"),
			Port:              getEnv("OPS_PORT", "8090"),
			TriggerRPS:        getEnvAsFloat("OPS_TRIGGER_RPS", 0.2),
			TriggerBurst:      getEnvAsInt("OPS_TRIGGER_BURST", 1),
			CycleWriteTimeout: getEnvAsDuration("OPS_CYCLE_WRITE_TIMEOUT", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Cycle.Interval <= 0:
		return fmt.Errorf("CYCLE_INTERVAL must be positive")
	case c.Cycle.LockTTL <= 0:
		return fmt.Errorf("CYCLE_LOCK_TTL must be positive")
	case c.Cycle.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Cycle.BatchSize)
	case c.Cycle.WorkerCount <= 0:
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Cycle.WorkerCount)
	case !c.Cycle.HitThreshold.IsPositive():
		return fmt.Errorf("HIT_MULTIPLIER_THRESHOLD must be positive, got %s", c.Cycle.HitThreshold)
	case c.Cache.TTL <= c.Cycle.Interval:
		return fmt.Errorf("CACHE_TTL (%s) must exceed CYCLE_INTERVAL (%s)", c.Cache.TTL, c.Cycle.Interval)
	case c.Cycle.StorageTimeout <= 0:
		return fmt.Errorf("STORAGE_TIMEOUT must be positive")
	case c.Cache.Timeout <= 0:
		return fmt.Errorf("CACHE_TIMEOUT must be positive")
	case c.Provider.Timeout <= 0:
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	case c.Provider.RetryAttempts < 1:
		return fmt.Errorf("PROVIDER_RETRY_ATTEMPTS must be at least 1")
	case c.Provider.CUBudget > 0 && c.Provider.CUReserved >= c.Provider.CUBudget:
		return fmt.Errorf("PROVIDER_CU_RESERVED must be below PROVIDER_CU_BUDGET")
	case c.Notify.Mode != "direct" && c.Notify.Mode != "listen":
		return fmt.Errorf("NOTIFY_MODE must be direct or listen, got %q", c.Notify.Mode)
	}
	return nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "engine"
	}
	return host
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal gets an environment variable as an exact decimal with a default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
