package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the backtest engine.
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Cache (C1)
	CacheDBPath string

	// Market data vendor (C2)
	VendorBaseURL string
	VendorAPIKey  string

	// Indicator math service (C3). Empty means compute locally via go-talib.
	IndicatorMathURL string

	// DefaultBenchmark is the ticker fetched alongside every request's
	// tickers for the benchmark curve.
	DefaultBenchmark string

	// Scheduler: twice-daily cache purge. The cron expressions are evaluated
	// in the server process's local time zone; no exchange time zone is
	// applied.
	PurgeCronAfternoon string
	PurgeCronEvening   string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8080),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		CacheDBPath:        getEnv("CACHE_DB_PATH", "./data/cache.db"),
		VendorBaseURL:      getEnv("VENDOR_BASE_URL", ""),
		VendorAPIKey:       getEnv("VENDOR_API_KEY", ""),
		IndicatorMathURL:   getEnv("INDICATOR_MATH_URL", ""),
		DefaultBenchmark:   getEnv("DEFAULT_BENCHMARK", "SPY"),
		PurgeCronAfternoon: getEnv("PURGE_CRON_AFTERNOON", "0 0 16 * * *"),
		PurgeCronEvening:   getEnv("PURGE_CRON_EVENING", "0 0 20 * * *"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.CacheDBPath == "" {
		return fmt.Errorf("CACHE_DB_PATH is required")
	}
	if c.VendorBaseURL == "" {
		return fmt.Errorf("VENDOR_BASE_URL is required")
	}

	// IndicatorMathURL is intentionally optional: an empty value selects
	// the local go-talib computation path.

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
