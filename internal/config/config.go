// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis (optional, analytics summary cache is disabled without it)
	RedisURL       string
	AnalyticsTTL   time.Duration // Summary cache TTL
	AllowedOrigins []string

	// Billing (Stripe)
	StripeSecretKey         string
	StripeWebhookSecret     string
	StripePriceIDPro        string
	StripePriceIDEnterprise string
	BillingSuccessURL       string
	BillingCancelURL        string

	// Security
	AdminSecret   string // Admin API secret
	WebhookSecret string // Default HMAC secret for outbound webhooks
	RateLimitRPM  int

	// Observability
	OTLPEndpoint string

	// License defaults
	DefaultLicenseDuration time.Duration // Applied when a plan has no explicit expiry
	DefaultUsageLimit      int           // 0 means unlimited
}

// Defaults
const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultRateLimit    = 120
	DefaultAnalyticsTTL = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:               getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:             os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:                os.Getenv("REDIS_URL"),
		AnalyticsTTL:            getEnvDuration("ANALYTICS_CACHE_TTL", DefaultAnalyticsTTL),
		AllowedOrigins:          splitAndTrim(os.Getenv("ALLOWED_ORIGINS")),
		StripeSecretKey:         os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:     os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceIDPro:        os.Getenv("STRIPE_PRICE_ID_PRO"),
		StripePriceIDEnterprise: os.Getenv("STRIPE_PRICE_ID_ENTERPRISE"),
		BillingSuccessURL:       getEnv("BILLING_SUCCESS_URL", "http://localhost:8080/billing/success"),
		BillingCancelURL:        getEnv("BILLING_CANCEL_URL", "http://localhost:8080/billing/cancel"),
		AdminSecret:             os.Getenv("ADMIN_SECRET"),
		WebhookSecret:           os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPM:            int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DefaultLicenseDuration:  getEnvDuration("DEFAULT_LICENSE_DURATION", 365*24*time.Hour),
		DefaultUsageLimit:       int(getEnvInt64("DEFAULT_USAGE_LIMIT", 0)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production (in-memory store loses all data on restart)")
		}
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	if c.DefaultUsageLimit < 0 {
		return fmt.Errorf("DEFAULT_USAGE_LIMIT must not be negative")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
