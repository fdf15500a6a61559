// Package config loads the lscon configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"lscon-go/types"
)

// Duration wraps time.Duration so YAML can carry strings like "100ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "json" (default) or "text"
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BusConfig struct {
	MaxDevices int `yaml:"max_devices,omitempty"` // 0: unbounded
	EventQueue int `yaml:"event_queue,omitempty"`
}

// InitConfig is the retry policy for a deferred connector initialization.
type InitConfig struct {
	RetryBackoff Duration `yaml:"retry_backoff,omitempty"`
	MaxBackoff   Duration `yaml:"max_backoff,omitempty"`
	MaxAttempts  int      `yaml:"max_attempts,omitempty"`
}

// ProviderConfig shapes the in-memory provider. UnavailableAttempts makes
// the listed references report unavailable that many times at boot.
type ProviderConfig struct {
	UnavailableAttempts int      `yaml:"unavailable_attempts,omitempty"`
	Unavailable         []string `yaml:"unavailable,omitempty"`
}

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bus       BusConfig       `yaml:"bus"`
	Init      InitConfig      `yaml:"init"`
	Provider  ProviderConfig  `yaml:"provider"`
	Drivers   []string        `yaml:"drivers"`
	Topology  types.Topology  `yaml:"topology"`
}

// Default is used for anything the file leaves out.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Bus:     BusConfig{EventQueue: 16},
		Init: InitConfig{
			RetryBackoff: Duration{100 * time.Millisecond},
			MaxBackoff:   Duration{2 * time.Second},
			MaxAttempts:  10,
		},
		Drivers: []string{"secure96"},
		Topology: types.Topology{Connector: types.ConnectorNode{
			Name: "lscon0",
			I2C0: "i2c0",
			I2C1: "i2c1",
			SPI:  "spi0",
		}},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a connector without bus references and duplicate slot
// names.
func (c Config) Validate() error {
	var errs []error
	n := c.Topology.Connector
	for key, ref := range map[string]string{"i2c0": n.I2C0, "i2c1": n.I2C1, "spi": n.SPI} {
		if ref == "" {
			errs = append(errs, fmt.Errorf("topology.connector.%s is required", key))
		}
	}
	seen := map[string]bool{}
	for i, s := range n.Mezzanines {
		if s.Name == "" {
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("topology.connector.mezzanines[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	if c.Bus.MaxDevices < 0 {
		errs = append(errs, errors.New("bus.max_devices must not be negative"))
	}
	if c.Init.MaxAttempts < 0 {
		errs = append(errs, errors.New("init.max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}
