package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration. Values come from defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	APIBaseURL        string        `yaml:"api_base_url"`
	LiveURL           string        `yaml:"live_url"`
	StorageDriver     string        `yaml:"storage_driver"`
	StorageDSN        string        `yaml:"storage_dsn"`
	RedisAddr         string        `yaml:"redis_addr"`
	AccessToken       string        `yaml:"access_token"`
	RefreshToken      string        `yaml:"refresh_token"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	LogLevel          string        `yaml:"log_level"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	CheckoutIntentTTL time.Duration `yaml:"checkout_intent_ttl"`
	OutboxSize        int           `yaml:"outbox_size"`
	NoticeBuffer      int           `yaml:"notice_buffer"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:          ":8090",
		APIBaseURL:        "http://localhost:8080/api",
		LiveURL:           "ws://localhost:8080/ws",
		StorageDriver:     "sqlite",
		StorageDSN:        "cartsync.db",
		AllowedOrigins:    []string{"http://localhost:3000"},
		LogLevel:          "info",
		RequestTimeout:    10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		ReconnectInterval: 3 * time.Second,
		CheckoutIntentTTL: 30 * time.Minute,
		OutboxSize:        64,
		NoticeBuffer:      32,
	}
}

// FromEnv builds Config with defaults, overridden by environment variables.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads the YAML file at path (skipped when empty) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later in confusing ways.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api base url required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.APIBaseURL = strings.TrimRight(envOrDefault("API_BASE_URL", c.APIBaseURL), "/")
	c.LiveURL = envOrDefault("LIVE_URL", c.LiveURL)
	c.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", c.StorageDriver))
	c.StorageDSN = envOrDefault("STORAGE_DSN", c.StorageDSN)
	c.RedisAddr = envOrDefault("REDIS_ADDR", c.RedisAddr)
	c.AccessToken = envOrDefault("ACCESS_TOKEN", c.AccessToken)
	c.RefreshToken = envOrDefault("REFRESH_TOKEN", c.RefreshToken)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	c.RequestTimeout = envDuration("REQUEST_TIMEOUT_SECONDS", c.RequestTimeout)
	c.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT_SECONDS", c.ShutdownTimeout)
	c.ReconnectInterval = envDuration("RECONNECT_INTERVAL_SECONDS", c.ReconnectInterval)
	c.CheckoutIntentTTL = envDuration("CHECKOUT_INTENT_TTL_SECONDS", c.CheckoutIntentTTL)
	c.OutboxSize = envInt("OUTBOX_SIZE", c.OutboxSize)
	c.NoticeBuffer = envInt("NOTICE_BUFFER", c.NoticeBuffer)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		seconds, err := strconv.Atoi(v)
		if err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
