package config

import (
	"os"
	"strconv"
)

type Config struct {
	DatabaseURL string
	Storage     string // "mysql" or "memory"
	Port        string
	Environment string

	// Ingestion settings
	BatchWorkers   int     // concurrent per-commodity workers per batch
	PriceTolerance float64 // absolute tolerance for numeric field diffs

	// Upstream crawler service (cmd/crawld)
	UpstreamBaseURL string
	UpstreamSources string // comma-separated source labels
}

func Load() *Config {
	// Default MySQL connection string for local development
	defaultDSN := "root:commodity@tcp(127.0.0.1:3306)/commodity_tracker?charset=utf8mb4&parseTime=True&loc=Local"

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", defaultDSN),
		Storage:     getEnv("STORAGE", "mysql"),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		BatchWorkers:   getEnvInt("BATCH_WORKERS", 8),
		PriceTolerance: getEnvFloat("PRICE_TOLERANCE", 0),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "http://127.0.0.1:9090"),
		UpstreamSources: getEnv("UPSTREAM_SOURCES", "tgju"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
