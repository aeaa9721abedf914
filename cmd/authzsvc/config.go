package main

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the service. Authorization policy
// (MFA, audit, access windows) lives in the YAML file at ConfigPath.
type Config struct {
	Env             string        `envconfig:"ENV" default:"development"`
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ConfigPath   string `envconfig:"CONFIG_PATH" default:"wardgate.yaml"`
	DirectoryURL string `envconfig:"DIRECTORY_URL" default:"http://localhost:8081"`

	// DBDSN enables the PostgreSQL stores; empty keeps everything in memory.
	DBDSN   string `envconfig:"DB_DSN"`
	Migrate bool   `envconfig:"MIGRATE" default:"true"`

	// RedisAddr enables cross-instance locking.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	RateLimit float64 `envconfig:"RATE_LIMIT" default:"50"`
	RateBurst int     `envconfig:"RATE_BURST" default:"100"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	// BootstrapAdmins are user ids granted super_admin on startup.
	BootstrapAdmins []string `envconfig:"BOOTSTRAP_ADMINS"`

	WebhookURL    string `envconfig:"WEBHOOK_URL"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	OTLPEndpoint string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool    `envconfig:"OTLP_INSECURE" default:"true"`
	TraceSample  float64 `envconfig:"TRACE_SAMPLE" default:"1"`
}

// LoadConfig reads AUTHZ_* environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("authz", &cfg); err != nil {
		return nil, err
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return nil, errors.New("rate limit and burst must not be negative")
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return nil, errors.New("webhook secret must be provided with a webhook url")
	}
	return &cfg, nil
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}
