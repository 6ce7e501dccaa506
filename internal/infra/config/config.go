// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Player     PlayerConfig            `yaml:"player"`
	Engine     EngineConfig            `yaml:"engine"`
	HTTP       HTTPConfig              `yaml:"http"`
	Decryption DecryptionConfig        `yaml:"decryption"`
	Broker     BrokerConfig            `yaml:"broker"`
	Logging    LoggingConfig           `yaml:"logging"`
	Filters    map[string]FilterConfig `yaml:"filters"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Token string      `yaml:"token"` // Shared bridge token, auth is off when empty
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlayerConfig holds the defaults used when the host creates the player
// without options.
type PlayerConfig struct {
	CacheDir     string `yaml:"cache_dir" default:"cache"`
	MaxCacheKiB  int64  `yaml:"max_cache_kib" validate:"gte=0"` // 0 disables the cache
	RatingType   int    `yaml:"rating_type" validate:"gte=0,lte=6"`
	EventBuffer  int    `yaml:"event_buffer" default:"256" validate:"gte=1"`
	AddTimeoutMs int    `yaml:"add_timeout_ms" default:"10000" validate:"gte=0"`
}

// EngineConfig represents player engine configuration.
type EngineConfig struct {
	LoaderWorkers int           `yaml:"loader_workers" default:"2" validate:"gte=1,lte=32"`
	LoaderDepth   int           `yaml:"loader_depth" default:"16" validate:"gte=1"`
	TickInterval  time.Duration `yaml:"tick_interval" default:"100ms" validate:"gte=1ms"`
	Output        string        `yaml:"output" default:"none" validate:"oneof=none speaker"`
}

// HTTPConfig represents remote media fetching configuration.
type HTTPConfig struct {
	UserAgent      string        `yaml:"user_agent" default:"trackbridge"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"8s"`
}

// DecryptionConfig represents local file decryption configuration.
type DecryptionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key" validate:"required_if=Enabled true,omitempty,hexadecimal,len=64"`
	Nonce   string `yaml:"nonce" validate:"required_if=Enabled true,omitempty,hexadecimal"`
}

// BrokerConfig represents the pending command queue configuration.
type BrokerConfig struct {
	MaxPending int `yaml:"max_pending" default:"64" validate:"gte=1"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and environment
// overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TRACKBRIDGE_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("TRACKBRIDGE_DECRYPT_KEY"); v != "" {
		c.Decryption.Key = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// MaxCacheBytes returns the configured cache budget in bytes.
func (c *PlayerConfig) MaxCacheBytes() int64 {
	return c.MaxCacheKiB * 1024
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}
