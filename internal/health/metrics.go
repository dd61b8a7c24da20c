package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics publishes the outcome and latency of each readiness check.
type Metrics struct {
	status   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the check collectors with reg when reg is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	const subsystem = "health"

	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "check_status",
			Help:      "Latest readiness check result (1=up, 0=down)",
		}, []string{"check"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "check_duration_seconds",
			Help:      "Readiness check latency",
			Buckets:   []float64{.001, .005, .025, .1, .5, 1, 2},
		}, []string{"check"}),
	}
	if reg != nil {
		reg.MustRegister(m.status, m.duration)
	}
	return m
}

func (m *Metrics) observe(check string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	up := 1.0
	if err != nil {
		up = 0
	}
	m.status.WithLabelValues(check).Set(up)
	m.duration.WithLabelValues(check).Observe(elapsed.Seconds())
}
