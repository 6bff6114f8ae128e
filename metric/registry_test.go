package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorkit/errors"
)

func newTestCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sensorkit",
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	err := registry.Register("sensor", "commits", newTestCounter("commits_total"))
	require.NoError(t, err)

	// Same component/metric key is rejected before reaching Prometheus.
	err = registry.Register("sensor", "commits", newTestCounter("other_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_RegisterPrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.Register("sensor", "commits", newTestCounter("commits_total")))

	// Different key but colliding Prometheus name.
	err := registry.Register("engine", "commits", newTestCounter("commits_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.Register("sensor", "commits", newTestCounter("commits_total")))
	assert.True(t, registry.Unregister("sensor", "commits"))
	assert.False(t, registry.Unregister("sensor", "commits"))

	// Name is free again after unregistering.
	assert.NoError(t, registry.Register("sensor", "commits", newTestCounter("commits_total")))
}
