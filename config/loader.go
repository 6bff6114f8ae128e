package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/c360/sensorkit/errors"
)

// Loader loads configuration in layers: defaults, then the JSON file, then
// environment variable overrides, then validation.
type Loader struct {
	envPrefix string
}

// NewLoader creates a loader with the standard SENSORKIT env prefix
func NewLoader() *Loader {
	return &Loader{envPrefix: "SENSORKIT"}
}

// Load reads the file at path and returns a validated Config. An empty path
// skips the file layer and loads defaults plus env overrides only.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := l.mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the JSON file onto cfg. Duration strings in the raw map
// are converted to nanoseconds before unmarshaling into the typed config.
func (l *Loader) mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "read config file")
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "parse config file")
	}
	l.parseDurations(raw)

	processed, err := json.Marshal(raw)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "reprocess config file")
	}
	if err := json.Unmarshal(processed, cfg); err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "decode config file")
	}
	return nil
}

// parseDurations converts duration strings to nanoseconds for json
// unmarshaling into time.Duration fields. Sensor delays stay as strings;
// they are parsed at validation.
func (l *Loader) parseDurations(data map[string]any) {
	if nats, ok := data["nats"].(map[string]any); ok {
		if wait, ok := nats["reconnect_wait"].(string); ok {
			if d, err := time.ParseDuration(wait); err == nil {
				nats["reconnect_wait"] = d.Nanoseconds()
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := os.Getenv(l.envPrefix + "_ENVIRONMENT"); val != "" {
		cfg.Platform.Environment = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv(l.envPrefix + "_STORE_BUCKET"); val != "" {
		cfg.Store.Bucket = val
	}
	if val := os.Getenv(l.envPrefix + "_PUBLISH_SUBJECT_PREFIX"); val != "" {
		cfg.Publish.SubjectPrefix = val
	}
}
