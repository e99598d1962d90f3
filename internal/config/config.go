package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	// Logging
	LogLevel    string
	LogFormat   string // json or console
	Environment string

	// Market data
	KrakenBaseURL   string
	RequestTimeout  int // seconds
	RequestsPerSec  int
	MaxRetries      int
	IntervalMinutes int
	StoreCapacity   int
	EvalInterval    time.Duration

	// Strategies come from the YAML file unless a Postgres DSN is set
	StrategiesFile string
	PostgresDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MetricsAddr string

	// Risk
	KellyFraction         float64
	MinPositionSize       float64
	MaxPositionSize       float64
	MaxExposurePercent    float64
	DailyLossLimitPercent float64

	PaperBalance float64
	BacktestDays int

	Flags Flags
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.LogLevel = getEnvWithDefault("CRYPTO_TRADER_LOG_LEVEL", "info")
	cfg.LogFormat = getEnvWithDefault("CRYPTO_TRADER_LOG_FORMAT", "console")
	cfg.Environment = getEnvWithDefault("CRYPTO_TRADER_ENV", "development")

	cfg.KrakenBaseURL = getEnvWithDefault("KRAKEN_BASE_URL", "https://api.kraken.com")
	cfg.RequestTimeout = getEnvIntWithDefault("REQUEST_TIMEOUT", 30)
	cfg.RequestsPerSec = getEnvIntWithDefault("REQUESTS_PER_SEC", 1)
	cfg.MaxRetries = getEnvIntWithDefault("MAX_RETRIES", 3)
	cfg.IntervalMinutes = getEnvIntWithDefault("CANDLE_INTERVAL", 60)
	cfg.StoreCapacity = getEnvIntWithDefault("CANDLE_STORE_CAPACITY", 200)
	cfg.EvalInterval = getEnvDurationWithDefault("EVAL_INTERVAL", time.Minute)

	cfg.StrategiesFile = getEnvWithDefault("STRATEGIES_FILE", "strategies.yaml")
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")

	cfg.RedisAddr = getEnvWithDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvIntWithDefault("REDIS_DB", 0)

	cfg.MetricsAddr = getEnvWithDefault("METRICS_ADDR", ":9090")

	cfg.KellyFraction = getEnvFloatWithDefault("KELLY_FRACTION", 0.25)
	cfg.MinPositionSize = getEnvFloatWithDefault("MIN_POSITION_SIZE", 0.01)
	cfg.MaxPositionSize = getEnvFloatWithDefault("MAX_POSITION_SIZE", 0.20)
	cfg.MaxExposurePercent = getEnvFloatWithDefault("MAX_EXPOSURE_PERCENT", 80)
	cfg.DailyLossLimitPercent = getEnvFloatWithDefault("DAILY_LOSS_LIMIT_PERCENT", -5)

	cfg.PaperBalance = getEnvFloatWithDefault("PAPER_BALANCE", 10000)
	cfg.BacktestDays = getEnvIntWithDefault("BACKTEST_DAYS", 30)

	cfg.Flags = FlagsFromEnv(os.Environ())

	return &cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid number, using default")
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration, using default")
	}
	return defaultValue
}
