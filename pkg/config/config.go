// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/parcelworks/shippo-extract/pkg/client"
	"github.com/parcelworks/shippo-extract/pkg/sync"
)

// Backend names accepted for state.backend.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config captures all extractor configuration knobs loaded via Viper.
type Config struct {
	Token        string        `mapstructure:"token"`
	StartDate    string        `mapstructure:"start_date"`
	BaseURL      string        `mapstructure:"base_url"`
	PageSize     int           `mapstructure:"page_size"`
	LookbackDays int           `mapstructure:"lookback_days"`
	HTTP         HTTPConfig    `mapstructure:"http"`
	State        StateConfig   `mapstructure:"state"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	Logging      LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig configures API client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// StateConfig selects and configures the checkpoint backend.
type StateConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection details for the redis checkpoint backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MetricsConfig controls the Prometheus listener. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig controls log verbosity and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load builds a Config from disk/environment. Every key can be set via
// a SHIPPO_ environment variable, with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHIPPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so environment-only values are
	// visible to Unmarshal.
	v.SetDefault("token", "")
	v.SetDefault("start_date", "")
	v.SetDefault("base_url", "https://api.goshippo.com")
	v.SetDefault("page_size", 1000)
	v.SetDefault("lookback_days", 0)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.user_agent", "shippo-extract/1.0")
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.path", "state.json")
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.key", "shippo-extract:state")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token must be set")
	}
	if c.StartDate == "" {
		return fmt.Errorf("start_date must be set")
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be > 0")
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("lookback_days must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	switch c.State.Backend {
	case BackendFile:
		if c.State.Path == "" {
			return fmt.Errorf("state.path must be set for the file backend")
		}
	case BackendRedis:
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendFile, BackendRedis, c.State.Backend)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port or 0")
	}
	return nil
}

// StartTime parses start_date, accepting a bare date or full RFC 3339.
func (c Config) StartTime() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, c.StartDate); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date %q is not a date or RFC 3339 timestamp", c.StartDate)
	}
	return t.UTC(), nil
}

// ClientConfig converts the HTTP section into an API client configuration.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		Token:     c.Token,
		UserAgent: c.HTTP.UserAgent,
		Timeout:   time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
		Retry: client.RetryConfig{
			MaxAttempts:       c.HTTP.MaxRetries,
			InitialBackoff:    time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
			MaxBackoff:        time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	}
}

// SyncConfig converts the top-level extraction knobs into a sync
// configuration. Validate must have passed first.
func (c Config) SyncConfig() (sync.Config, error) {
	start, err := c.StartTime()
	if err != nil {
		return sync.Config{}, err
	}
	return sync.Config{
		BaseURL:   c.BaseURL,
		PageSize:  c.PageSize,
		StartDate: start,
		Lookback:  time.Duration(c.LookbackDays) * 24 * time.Hour,
	}, nil
}
