// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on minimal images

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"
	LogLevel    string
	LogFormat   string // "json" | "console"

	// Database; empty means the in-memory store
	DatabaseURL string
	DBMaxConns  int

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
	BankInfoKey    string // 64 hex chars

	// Redis (rate limiting); empty falls back to the in-process limiter
	RedisURL string

	// Case rules
	Timezone       string
	AccessTokenTTL time.Duration // 0 = caregiver links never expire
	PublicBaseURL  string
	MaxPeriodDays  int // longest allowed case period in days, both ends inclusive

	// Collaborators
	NotifyWebhookURL string
	NotifyRetryCount int
	RenderServiceURL string
	RenderTimeout    time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 25),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"), ","),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
		BankInfoKey:    getEnv("BANK_INFO_KEY", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		Timezone:       getEnv("TIMEZONE", "Asia/Seoul"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 0),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:5173"),
		MaxPeriodDays:  getEnvInt("MAX_PERIOD_DAYS", 366),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyRetryCount: getEnvInt("NOTIFY_RETRY_COUNT", 2),
		RenderServiceURL: getEnv("RENDER_SERVICE_URL", ""),
		RenderTimeout:    getEnvDuration("RENDER_TIMEOUT", 20*time.Second),
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	// Validate required fields in production
	if cfg.Environment == "production" {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == devJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
		if cfg.BankInfoKey == "" {
			return nil, fmt.Errorf("BANK_INFO_KEY is required in production")
		}
	}

	return cfg, nil
}

// Location resolves Timezone, the calendar "today" is evaluated in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
