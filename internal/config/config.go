// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Fees is the immutable pricing configuration injected into every component
// that moves money. Rates are expressed in basis points so split arithmetic
// stays in integers (amounts are in the smallest currency unit).
type Fees struct {
	PlatformRateBPS int64 // platform share of escrow captures and PPV purchases
	AskerRateBPS    int64 // asker share of a PPV purchase
	BestRateBPS     int64 // best-responder share of a PPV purchase
	PayoutFixedFee  int64 // fixed fee charged on every payout
	PayoutRateBPS   int64 // rate fee charged on every payout
	MinPayout       int64 // minimum payout request amount
}

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment provider
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string // ISO 4217, lower case as the provider expects

	// Pricing
	Fees Fees

	// Outbound notifications
	NotifySecret string // HMAC secret for signing outbound notification payloads

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing

	// Security
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultCurrency        = "usd"
	DefaultRateLimit       = 100
	DefaultPlatformRateBPS = 2000 // 20%
	DefaultAskerRateBPS    = 4000 // 40%
	DefaultBestRateBPS     = 2400 // 24%
	DefaultPayoutFixedFee  = 250
	DefaultPayoutRateBPS   = 25 // 0.25%
	DefaultMinPayout       = 3000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            getEnv("CURRENCY", DefaultCurrency),
		NotifySecret:        os.Getenv("NOTIFY_SECRET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		Fees: Fees{
			PlatformRateBPS: getEnvInt64("PLATFORM_RATE_BPS", DefaultPlatformRateBPS),
			AskerRateBPS:    getEnvInt64("ASKER_RATE_BPS", DefaultAskerRateBPS),
			BestRateBPS:     getEnvInt64("BEST_RATE_BPS", DefaultBestRateBPS),
			PayoutFixedFee:  getEnvInt64("PAYOUT_FIXED_FEE", DefaultPayoutFixedFee),
			PayoutRateBPS:   getEnvInt64("PAYOUT_RATE_BPS", DefaultPayoutRateBPS),
			MinPayout:       getEnvInt64("MIN_PAYOUT", DefaultMinPayout),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	f := c.Fees
	if f.PlatformRateBPS < 0 || f.AskerRateBPS < 0 || f.BestRateBPS < 0 {
		return fmt.Errorf("fee rates must be non-negative")
	}
	if f.PlatformRateBPS+f.AskerRateBPS+f.BestRateBPS > 10000 {
		return fmt.Errorf("PPV split rates exceed 100%%")
	}
	if f.MinPayout <= f.PayoutFixedFee {
		return fmt.Errorf("MIN_PAYOUT must exceed PAYOUT_FIXED_FEE")
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
