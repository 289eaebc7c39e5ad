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
	DataDir  string // Base directory for run databases (always absolute)
	LogLevel string
	LogJSON  bool

	// Solver backend names per problem class. Empty selects the built-in
	// default for that class.
	SolverLP   string
	SolverQP   string
	SolverSOCP string

	// RiskFreeRate feeds ratio objectives (Sharpe and shortfall ratios).
	RiskFreeRate float64

	// FrontierPoints is the default frontier resolution.
	FrontierPoints int

	// BacktestWorkers caps concurrent window solves. 1 disables
	// concurrency.
	BacktestWorkers int
	// BacktestHoldOnFailure carries previous weights across a failed
	// rebalance instead of recording NaN.
	BacktestHoldOnFailure bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("FOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:               absDataDir,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogJSON:               getEnvAsBool("LOG_JSON", false),
		SolverLP:              getEnv("SOLVER_LP", ""),
		SolverQP:              getEnv("SOLVER_QP", ""),
		SolverSOCP:            getEnv("SOLVER_SOCP", ""),
		RiskFreeRate:          getEnvAsFloat("RISK_FREE_RATE", 0),
		FrontierPoints:        getEnvAsInt("FRONTIER_POINTS", 25),
		BacktestWorkers:       getEnvAsInt("BACKTEST_WORKERS", 1),
		BacktestHoldOnFailure: getEnvAsBool("BACKTEST_HOLD_ON_FAILURE", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges on numeric settings.
func (c *Config) Validate() error {
	if c.FrontierPoints < 1 {
		return fmt.Errorf("FRONTIER_POINTS must be >= 1, got %d", c.FrontierPoints)
	}
	if c.BacktestWorkers < 1 {
		return fmt.Errorf("BACKTEST_WORKERS must be >= 1, got %d", c.BacktestWorkers)
	}
	return nil
}

// DatabasePath returns the path of the run database inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "folio.db")
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
