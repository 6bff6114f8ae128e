package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSensors() map[string]SensorConfig {
	return map[string]SensorConfig{
		"door_open": {
			Value:   `state("sensor.door") == "open"`,
			DelayOn: "3s",
		},
	}
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"platform": {"id": "house"},
		"nats": {"url": "nats://nats:4222", "reconnect_wait": "5s"},
		"store": {"backend": "kv", "bucket": "house-state"},
		"sensors": {
			"door_open": {
				"value": "state(\"sensor.door\") == \"open\"",
				"delay_off": "2s",
				"attributes": {"battery": "state(\"sensor.door_battery\")"}
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "house", cfg.Platform.ID)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "house-state", cfg.Store.Bucket)
	assert.Equal(t, "sensors.binary", cfg.Publish.SubjectPrefix) // default kept

	sensor, ok := cfg.Sensors["door_open"]
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, sensor.DelayOffDuration())
	assert.Zero(t, sensor.DelayOnDuration())
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"nats": {"url": "nats://file:4222"},
		"sensors": {"door_open": {"value": "true"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SENSORKIT_NATS_URL", "nats://env:4222")
	t.Setenv("SENSORKIT_STORE_BUCKET", "env-bucket")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "env-bucket", cfg.Store.Bucket)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "no_sensors",
			mutate:  func(c *Config) { c.Sensors = nil },
			wantErr: "at least one sensor",
		},
		{
			name: "bad_sensor_key",
			mutate: func(c *Config) {
				c.Sensors["Door-Open"] = SensorConfig{Value: "true"}
			},
			wantErr: "lowercase slug",
		},
		{
			name: "missing_value_expression",
			mutate: func(c *Config) {
				c.Sensors["door_open"] = SensorConfig{DelayOn: "1s"}
			},
			wantErr: "value expression is required",
		},
		{
			name: "negative_delay",
			mutate: func(c *Config) {
				c.Sensors["door_open"] = SensorConfig{Value: "true", DelayOn: "-3s"}
			},
			wantErr: "invalid delay_on",
		},
		{
			name: "unparseable_delay",
			mutate: func(c *Config) {
				c.Sensors["door_open"] = SensorConfig{Value: "true", DelayOff: "soon"}
			},
			wantErr: "invalid delay_off",
		},
		{
			name:    "kv_without_bucket",
			mutate:  func(c *Config) { c.Store.Bucket = "" },
			wantErr: "store.bucket",
		},
		{
			name:    "unknown_backend",
			mutate:  func(c *Config) { c.Store.Backend = "redis" },
			wantErr: "unknown store backend",
		},
		{
			name: "memory_backend_needs_no_nats",
			mutate: func(c *Config) {
				c.Store.Backend = StoreBackendMemory
				c.NATS.URL = ""
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Sensors = validSensors()
			test.mutate(cfg)

			err := cfg.Validate()
			if test.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), test.wantErr)
			}
		})
	}
}

func TestConfig_StringMasksCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "secret-token"

	rendered := cfg.String()
	assert.NotContains(t, rendered, "hunter2")
	assert.NotContains(t, rendered, "secret-token")
}
