package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server configuration
	Port          string
	Mode          string
	PublicBaseURL string

	// Database configuration
	DatabaseURL string

	// Redis configuration, empty disables idempotency, analytics and the shared rate limiter
	RedisURL string

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// Owner API configuration
	OwnerJWTSecret string

	// Observability
	SentryDSN string
	LogLevel  string
	LogFormat string

	// Pipeline configuration
	ChannelTimeout     time.Duration
	MaxPayloadBytes    int
	RateLimitPerMinute int
	APIKeyHashCost     int
	IdempotencyTTL     time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("BREVO_API_KEY", "")
	v.SetDefault("BREVO_FROM_EMAIL", "")
	v.SetDefault("BREVO_FROM_NAME", "Forms")
	v.SetDefault("OWNER_JWT_SECRET", "")
	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("CHANNEL_TIMEOUT", "5s")
	v.SetDefault("MAX_PAYLOAD_BYTES", 64*1024)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("API_KEY_HASH_COST", 12)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
}

// Load reads the optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env file is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		Port:               v.GetString("PORT"),
		Mode:               v.GetString("GIN_MODE"),
		PublicBaseURL:      strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		BrevoAPIKey:        v.GetString("BREVO_API_KEY"),
		BrevoFromEmail:     v.GetString("BREVO_FROM_EMAIL"),
		BrevoFromName:      v.GetString("BREVO_FROM_NAME"),
		OwnerJWTSecret:     v.GetString("OWNER_JWT_SECRET"),
		SentryDSN:          v.GetString("SENTRY_DSN"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		ChannelTimeout:     v.GetDuration("CHANNEL_TIMEOUT"),
		MaxPayloadBytes:    v.GetInt("MAX_PAYLOAD_BYTES"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		APIKeyHashCost:     v.GetInt("API_KEY_HASH_COST"),
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.ChannelTimeout <= 0 {
		return fmt.Errorf("CHANNEL_TIMEOUT must be positive, got %s", c.ChannelTimeout)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("MAX_PAYLOAD_BYTES must be positive, got %d", c.MaxPayloadBytes)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimitPerMinute)
	}
	if c.APIKeyHashCost < 4 || c.APIKeyHashCost > 31 {
		return fmt.Errorf("API_KEY_HASH_COST must be between 4 and 31, got %d", c.APIKeyHashCost)
	}
	return nil
}
