// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	LogLevel            string
	LogPretty           bool
	HistoryDBPath       string  // SQLite file with daily bars and run summaries (always absolute)
	MPOHorizon          int     // Lookahead periods per policy; 1 is single-period
	MarketNeutralWindow int     // Default covariance window for market_neutral entries without one
	PenaltyWeight       float64 // Weight of squared violations in the projection objective
	MetricsAddr         string  // Listen address for /metrics and /healthz; empty disables
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dbPath, err := filepath.Abs(getEnv("HISTORY_DB_PATH", "data/history.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history database path: %w", err)
	}

	cfg := &Config{
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           getEnvAsBool("LOG_PRETTY", true),
		HistoryDBPath:       dbPath,
		MPOHorizon:          getEnvAsInt("MPO_HORIZON", 1),
		MarketNeutralWindow: getEnvAsInt("MARKET_NEUTRAL_WINDOW", 0),
		PenaltyWeight:       getEnvAsFloat("PENALTY_WEIGHT", 1000),
		MetricsAddr:         getEnv("METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configured values are usable
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "LOG_LEVEL", Message: fmt.Sprintf("unknown level %q", c.LogLevel)})
	}
	if c.HistoryDBPath == "" {
		errs = append(errs, ValidationError{Field: "HISTORY_DB_PATH", Message: "path is required"})
	}
	if c.MPOHorizon < 1 {
		errs = append(errs, ValidationError{Field: "MPO_HORIZON", Message: "must be at least 1"})
	}
	// 0 keeps the covariance forecaster's own default.
	if c.MarketNeutralWindow != 0 && c.MarketNeutralWindow < 2 {
		errs = append(errs, ValidationError{Field: "MARKET_NEUTRAL_WINDOW", Message: "must be at least 2"})
	}
	if c.PenaltyWeight <= 0 {
		errs = append(errs, ValidationError{Field: "PENALTY_WEIGHT", Message: "must be greater than 0"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Helper functions
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
