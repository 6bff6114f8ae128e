package sensor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorkit/metric"
)

// Metrics holds Prometheus metrics shared by all sensors
type Metrics struct {
	recomputes    *prometheus.CounterVec
	commits       *prometheus.CounterVec
	evalErrors    *prometheus.CounterVec
	pendingTimers *prometheus.GaugeVec
	state         *prometheus.GaugeVec
}

// NewMetrics creates and registers sensor metrics. A nil registry disables
// recording entirely (nil input = nil feature pattern).
func NewMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorkit",
			Subsystem: "sensor",
			Name:      "recomputes_total",
			Help:      "Total recompute passes per sensor",
		}, []string{"sensor"}),

		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorkit",
			Subsystem: "sensor",
			Name:      "commits_total",
			Help:      "Total committed value changes per sensor",
		}, []string{"sensor", "value"}),

		evalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorkit",
			Subsystem: "sensor",
			Name:      "evaluation_errors_total",
			Help:      "Expression evaluation failures by expression and class",
		}, []string{"sensor", "expression", "class"}),

		pendingTimers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sensorkit",
			Subsystem: "sensor",
			Name:      "pending_timer",
			Help:      "Whether a debounce timer is outstanding (0 or 1)",
		}, []string{"sensor"}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sensorkit",
			Subsystem: "sensor",
			Name:      "state",
			Help:      "Committed sensor state (-1 unknown, 0 off, 1 on)",
		}, []string{"sensor"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.recomputes,
		m.commits,
		m.evalErrors,
		m.pendingTimers,
		m.state,
	)

	return m
}
