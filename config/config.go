// Package config loads and validates SensorKit configuration from JSON files
// with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/c360/sensorkit/errors"
)

// Store backend constants
const (
	StoreBackendMemory = "memory" // in-process store, embedded use and tests
	StoreBackendKV     = "kv"     // NATS JetStream key-value bucket
)

// Config represents the complete application configuration
type Config struct {
	Version  string                  `json:"version"` // semantic version, informational
	Platform PlatformConfig          `json:"platform"`
	NATS     NATSConfig              `json:"nats"`
	Metrics  MetricsConfig           `json:"metrics"`
	Store    StoreConfig             `json:"store"`
	Publish  PublishConfig           `json:"publish"`
	Sensors  map[string]SensorConfig `json:"sensors"`
}

// PlatformConfig defines deployment identity
type PlatformConfig struct {
	ID          string `json:"id"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// MetricsConfig defines the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// StoreConfig selects and configures the upstream state store
type StoreConfig struct {
	Backend string `json:"backend"`
	Bucket  string `json:"bucket,omitempty"` // KV bucket name, backend "kv" only
}

// PublishConfig defines where committed snapshots go
type PublishConfig struct {
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// SensorConfig is the raw per-sensor definition. Expressions are plain
// strings here; compilation happens at engine initialization. Delays are Go
// duration strings ("3s", "1m30s").
type SensorConfig struct {
	FriendlyName string            `json:"friendly_name,omitempty"`
	DeviceClass  string            `json:"device_class,omitempty"`
	Value        string            `json:"value"`
	Icon         string            `json:"icon,omitempty"`
	Picture      string            `json:"picture,omitempty"`
	Availability string            `json:"availability,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	DelayOn      string            `json:"delay_on,omitempty"`
	DelayOff     string            `json:"delay_off,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults applied
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Platform: PlatformConfig{
			ID:          "sensorkit",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "sensorkit",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Store: StoreConfig{
			Backend: StoreBackendKV,
			Bucket:  "sensorkit-state",
		},
		Publish: PublishConfig{
			SubjectPrefix: "sensors.binary",
		},
		Sensors: map[string]SensorConfig{},
	}
}

// sensor keys become NATS subject tokens and log labels
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendKV:
		if c.Store.Bucket == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"Config", "Validate", "store.bucket is required for the kv backend")
		}
		if c.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"Config", "Validate", "nats.url is required for the kv backend")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Config", "Validate", fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "metrics.addr is required when metrics are enabled")
	}

	if c.Publish.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "publish.subject_prefix is required")
	}

	if len(c.Sensors) == 0 {
		return errors.WrapInvalid(errors.ErrNoSensors,
			"Config", "Validate", "at least one sensor must be configured")
	}

	for name, sensor := range c.Sensors {
		if err := sensor.Validate(name); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks a single sensor entry; name is the map key
func (sc *SensorConfig) Validate(name string) error {
	if !slugPattern.MatchString(name) {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"SensorConfig", "Validate",
			fmt.Sprintf("sensor key %q must be a lowercase slug (a-z, 0-9, _)", name))
	}
	if strings.TrimSpace(sc.Value) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"SensorConfig", "Validate", fmt.Sprintf("sensor %s: value expression is required", name))
	}
	if _, err := parseDelay(sc.DelayOn); err != nil {
		return errors.WrapInvalid(err,
			"SensorConfig", "Validate", fmt.Sprintf("sensor %s: invalid delay_on", name))
	}
	if _, err := parseDelay(sc.DelayOff); err != nil {
		return errors.WrapInvalid(err,
			"SensorConfig", "Validate", fmt.Sprintf("sensor %s: invalid delay_off", name))
	}
	return nil
}

// DelayOnDuration returns the parsed delay_on; zero when unset
func (sc *SensorConfig) DelayOnDuration() time.Duration {
	d, _ := parseDelay(sc.DelayOn)
	return d
}

// DelayOffDuration returns the parsed delay_off; zero when unset
func (sc *SensorConfig) DelayOffDuration() time.Duration {
	d, _ := parseDelay(sc.DelayOff)
	return d
}

// parseDelay parses a duration string, rejecting negative values. Empty
// means unset.
func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("delay must be non-negative, got %s", d)
	}
	return d, nil
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
