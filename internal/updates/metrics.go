package updates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records plugin loading outcomes.
type Metrics struct {
	failures *prometheus.CounterVec
	names    *prometheus.GaugeVec
	units    prometheus.Gauge
}

// NewMetrics registers the update metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookshelf",
			Name:      "update_failures_total",
			Help:      "Plugin failures contained during startup, by stage.",
		}, []string{"stage"}),
		names: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bookshelf",
			Name:      "registry_names",
			Help:      "Merged capability names per category.",
		}, []string{"category"}),
		units: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookshelf",
			Name:      "update_units",
			Help:      "Plugins loaded at startup.",
		}),
	}
}

func (m *Metrics) observe(report Report) {
	if m == nil {
		return
	}
	m.units.Set(float64(len(report.Units)))
	for _, f := range report.Failures {
		m.failures.WithLabelValues(string(f.Stage)).Inc()
	}
	for category, stats := range report.Categories {
		m.names.WithLabelValues(string(category)).Set(float64(stats.Names))
	}
}
