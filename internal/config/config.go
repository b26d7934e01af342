// Package config loads policykit configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openmined/policykit/store"
)

// DefaultPath is where commands look for configuration when no --config
// flag is given.
const DefaultPath = ".policykit/config.yaml"

// ServeConfig configures the HTTP enforcement service.
type ServeConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
}

// AuditConfig configures the decision event sink.
type AuditConfig struct {
	// Enabled turns on audit publishing.
	Enabled bool `yaml:"enabled"`

	// URL is the NATS server URL.
	URL string `yaml:"url"`

	// Subject is the NATS subject decisions are published on.
	Subject string `yaml:"subject"`
}

// Config represents policykit configuration options.
type Config struct {
	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Store is the default storage backend for stateful policies.
	Store store.Config `yaml:"store"`

	// HandlerTimeout bounds handler execution.
	HandlerTimeout time.Duration `yaml:"-"`

	// Serve configures the HTTP enforcement service.
	Serve ServeConfig `yaml:"serve"`

	// Audit configures decision event publishing.
	Audit AuditConfig `yaml:"audit"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Store: store.Config{
			Type: store.TypeMemory,
		},
		HandlerTimeout: 10 * time.Minute,
		Serve: ServeConfig{
			Addr: "127.0.0.1:8787",
		},
		Audit: AuditConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "policykit.decisions",
		},
	}
}

// LoadConfig loads configuration from path. A missing file returns the
// defaults without error; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Durations are written as strings in YAML ("30s", "5m"), so decode
	// through an intermediate struct.
	type yamlConfig struct {
		LogLevel       string       `yaml:"log_level"`
		Store          store.Config `yaml:"store"`
		HandlerTimeout string       `yaml:"handler_timeout"`
		Serve          ServeConfig  `yaml:"serve"`
		Audit          AuditConfig  `yaml:"audit"`
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.Store.Type != "" {
		cfg.Store = raw.Store
	}
	if raw.HandlerTimeout != "" {
		d, err := time.ParseDuration(raw.HandlerTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse handler_timeout: %w", err)
		}
		cfg.HandlerTimeout = d
	}
	if raw.Serve.Addr != "" {
		cfg.Serve.Addr = raw.Serve.Addr
	}
	if raw.Audit.URL != "" || raw.Audit.Subject != "" || raw.Audit.Enabled {
		if raw.Audit.URL == "" {
			raw.Audit.URL = cfg.Audit.URL
		}
		if raw.Audit.Subject == "" {
			raw.Audit.Subject = cfg.Audit.Subject
		}
		cfg.Audit = raw.Audit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (valid: trace, debug, info, warn, error)", c.LogLevel)
	}

	switch c.Store.Type {
	case "", store.TypeMemory:
	case store.TypeSQLite, store.TypeFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store type %q requires a path", c.Store.Type)
		}
	default:
		return fmt.Errorf("invalid store type %q (valid: memory, sqlite, file)", c.Store.Type)
	}

	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("handler_timeout must be positive")
	}
	return nil
}
