// Package config loads daemon configuration from an optional YAML file with
// DOCKHAND_* environment-variable overrides on top. Defaults are applied in
// one place so every consumer sees a fully-populated Config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime driver names.
const (
	DriverCLI = "cli"
	DriverAPI = "api"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RuntimeConfig selects and tunes the container runtime driver.
type RuntimeConfig struct {
	// Driver is "cli" (docker binary subprocess, the default) or "api"
	// (Docker Engine API).
	Driver string `yaml:"driver"`
	// Binary is the docker executable for the cli driver.
	Binary string `yaml:"binary"`
	// Timeout bounds every runtime invocation.
	Timeout Duration `yaml:"timeout"`
}

// ReconcileConfig tunes the reconciliation loop.
type ReconcileConfig struct {
	Interval Duration `yaml:"interval"`
}

// Config is the full daemon configuration.
type Config struct {
	// Listen is the HTTP API address.
	Listen string `yaml:"listen"`
	// StatePath is the task snapshot file.
	StatePath string `yaml:"state_path"`
	// EventsDB is the SQLite event-log file.
	EventsDB string `yaml:"events_db"`

	Runtime   RuntimeConfig   `yaml:"runtime"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:    ":8080",
		StatePath: "dockhand-state.json",
		EventsDB:  "dockhand-events.db",
		Runtime: RuntimeConfig{
			Driver:  DriverCLI,
			Binary:  "docker",
			Timeout: Duration(60 * time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval: Duration(30 * time.Second),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = envOr("DOCKHAND_LISTEN", c.Listen)
	c.StatePath = envOr("DOCKHAND_STATE_PATH", c.StatePath)
	c.EventsDB = envOr("DOCKHAND_EVENTS_DB", c.EventsDB)
	c.Runtime.Driver = envOr("DOCKHAND_RUNTIME_DRIVER", c.Runtime.Driver)
	c.Runtime.Binary = envOr("DOCKHAND_RUNTIME_BINARY", c.Runtime.Binary)
	c.Runtime.Timeout = envDurationOr("DOCKHAND_RUNTIME_TIMEOUT", c.Runtime.Timeout)
	c.Reconcile.Interval = envDurationOr("DOCKHAND_RECONCILE_INTERVAL", c.Reconcile.Interval)
}

func (c *Config) validate() error {
	switch c.Runtime.Driver {
	case DriverCLI, DriverAPI:
	default:
		return fmt.Errorf("runtime.driver must be %q or %q, got %q",
			DriverCLI, DriverAPI, c.Runtime.Driver)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}
	if time.Duration(c.Runtime.Timeout) <= 0 {
		return fmt.Errorf("runtime.timeout must be positive")
	}
	if time.Duration(c.Reconcile.Interval) <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}
	return nil
}

// envOr returns the environment variable's value, or fallback when unset or
// empty.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// envDurationOr parses the environment variable as a duration, keeping
// fallback when unset, empty, or unparsable.
func envDurationOr(name string, fallback Duration) Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return Duration(d)
}
