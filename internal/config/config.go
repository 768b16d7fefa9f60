// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "parley"
	DefaultPGSSLMode       = "disable"
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultMaxPerMinute    = 10
	DefaultWindowSeconds   = 60
	DefaultPartDelayMillis = 500
	DefaultInboundWorkers  = 4
	DefaultInboundQueue    = 256
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Ingest    IngestConfig    `toml:"ingest"`
	Delivery  DeliveryConfig  `toml:"delivery"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Generator GeneratorConfig `toml:"generator"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address and the shared webhook secret.
type ServerConfig struct {
	Addr          string `toml:"addr"`
	WebhookSecret string `toml:"webhook_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// RedisConfig holds Redis connection parameters for the rate limiter.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Address returns the Redis host:port, falling back to the default.
func (c RedisConfig) Address() string {
	if c.Addr == "" {
		return DefaultRedisAddr
	}
	return c.Addr
}

// RateLimitConfig holds sliding-window admission control parameters.
type RateLimitConfig struct {
	MaxPerMinute  int `toml:"max_per_minute"`
	WindowSeconds int `toml:"window_seconds"`
}

// Window returns the sliding window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	seconds := c.WindowSeconds
	if seconds <= 0 {
		seconds = DefaultWindowSeconds
	}
	return time.Duration(seconds) * time.Second
}

// IngestConfig holds the inbound worker pool size and queue capacity.
type IngestConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// DeliveryConfig holds reply sequencing parameters.
type DeliveryConfig struct {
	PartDelayMillis int `toml:"part_delay_ms"`
}

// PartDelay returns the inter-part delay as a duration.
func (c DeliveryConfig) PartDelay() time.Duration {
	ms := c.PartDelayMillis
	if ms <= 0 {
		ms = DefaultPartDelayMillis
	}
	return time.Duration(ms) * time.Millisecond
}

// TelegramConfig holds the Telegram bot credentials for outbound delivery.
type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

// GeneratorConfig holds the opaque response generator endpoint.
type GeneratorConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// Timeout returns the generator request timeout (default 30s).
func (c GeneratorConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		RateLimit: RateLimitConfig{
			MaxPerMinute:  DefaultMaxPerMinute,
			WindowSeconds: DefaultWindowSeconds,
		},
		Ingest: IngestConfig{
			Workers:   DefaultInboundWorkers,
			QueueSize: DefaultInboundQueue,
		},
		Delivery: DeliveryConfig{
			PartDelayMillis: DefaultPartDelayMillis,
		},
		Generator: GeneratorConfig{
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
