// Package config loads the process configuration from the environment and
// declares the typed business parameters read from the configuration store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Store     StoreConfig
	Batch     BatchConfig
	Scheduler SchedulerConfig
	App       AppConfig
}

type StoreConfig struct {
	Driver      string // memory, sqlite or postgres
	SQLitePath  string
	PostgresDSN string
}

type BatchConfig struct {
	// Size is the number of persons recomputed concurrently.
	Size int
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type AppConfig struct {
	Env      string
	LogLevel string
}

// Load reads the .env file when present and the process environment.
func Load() (*Config, error) {
	// .env is optional, the environment alone is enough in production
	_ = godotenv.Load()

	config := &Config{}

	batchSize, err := strconv.Atoi(getEnv("BATCH_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_SIZE: %w", err)
	}
	config.Batch = BatchConfig{Size: batchSize}

	schedulerEnabled, err := strconv.ParseBool(getEnv("SCHEDULER_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
	}
	interval, err := time.ParseDuration(getEnv("SCHEDULER_INTERVAL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_INTERVAL: %w", err)
	}
	config.Scheduler = SchedulerConfig{Enabled: schedulerEnabled, Interval: interval}

	config.Store = StoreConfig{
		Driver:      strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "timebank.db"),
		PostgresDSN: getEnv("DATABASE_URL", ""),
	}

	config.App = AppConfig{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
