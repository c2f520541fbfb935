// Package config loads process-wide gateway configuration from
// environment variables (with an optional .env file), and per-upstream
// pool configuration from a YAML file.
//
// Grounded on Alfred's config.Load: same getEnv/getEnvInt helper shape,
// same godotenv.Load-then-read-env pattern.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide gateway configuration.
type Config struct {
	Env             string
	GracefulTimeout time.Duration

	RedisURL   string
	AuditDBURL string

	LogLevel string

	// Rate limiter settings (per spec §4.2) for the single process-wide
	// limiter; the YAML pool config source has no rate-limit fields.
	RateLimitMaxRequests int
	RateLimitWindowS     int

	// Circuit breaker defaults (per spec §4.3).
	BreakerFailureThreshold int
	BreakerTimeoutS         int
	BreakerHalfOpenMaxCalls int

	AdminAddr string
}

// Load reads configuration from environment variables and an optional
// .env file in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)

	return &Config{
		Env:                     getEnv("ENV", "development"),
		GracefulTimeout:         time.Duration(gracefulSec) * time.Second,
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		AuditDBURL:              getEnv("AUDIT_DATABASE_URL", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		RateLimitMaxRequests:    getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindowS:        getEnvInt("RATE_LIMIT_WINDOW_S", 60),
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerTimeoutS:         getEnvInt("BREAKER_TIMEOUT_S", 30),
		BreakerHalfOpenMaxCalls: getEnvInt("BREAKER_HALF_OPEN_MAX_CALLS", 2),
		AdminAddr:               getEnv("ADMIN_ADDR", ":9090"),
	}
}

// IsDevelopment reports whether Env is "development".
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
