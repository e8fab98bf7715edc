// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. Required unless DevMode is true.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DevMode runs the server against in-memory stores instead of Postgres. Must not be true when Env is production.
	DevMode bool `mapstructure:"DEV_MODE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// IdempotencyTTL is how long an idempotency key maps to its event summary (e.g. "24h").
	IdempotencyTTL string `mapstructure:"IDEMPOTENCY_TTL"`

	// WebhookLegacyEnabled toggles delivery to the single global legacy endpoint.
	WebhookLegacyEnabled bool `mapstructure:"WEBHOOK_LEGACY_ENABLED"`
	// WebhookLegacyURL is the legacy endpoint URL; required when WebhookLegacyEnabled is true.
	WebhookLegacyURL string `mapstructure:"WEBHOOK_LEGACY_URL"`
	// WebhookLegacySecret is the optional HMAC signing secret for the legacy endpoint.
	WebhookLegacySecret string `mapstructure:"WEBHOOK_LEGACY_SECRET"`

	// Firehose (optional). When Kafka brokers are set, committed events are published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for committed events (default pulse-events).
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the firehose worker to push event lines (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the firehose worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DEV_MODE", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("WEBHOOK_LEGACY_ENABLED", false)
	v.SetDefault("WEBHOOK_LEGACY_URL", "")
	v.SetDefault("WEBHOOK_LEGACY_SECRET", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "pulse-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "pulse-firehose-worker")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.DevMode && cfg.Env == "production" {
		return nil, errors.New("config: DEV_MODE must not be true when APP_ENV=production")
	}

	if cfg.WebhookLegacyEnabled && cfg.WebhookLegacyURL == "" {
		return nil, errors.New("config: WEBHOOK_LEGACY_URL must be set when WEBHOOK_LEGACY_ENABLED=true")
	}

	if _, err := time.ParseDuration(cfg.IdempotencyTTL); cfg.IdempotencyTTL != "" && err != nil {
		return nil, errors.New("config: IDEMPOTENCY_TTL must be a valid duration (e.g. 24h)")
	}

	return &cfg, nil
}

// IdempotencyTTLDuration parses IdempotencyTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) IdempotencyTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.IdempotencyTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the firehose is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
