package solver

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for Solver Service calls.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers solver metrics once per process.
//
//   - trilat_solver_request_duration_seconds{path,outcome}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "trilat_solver_request_duration_seconds",
					Help:    "Duration of Solver Service calls including retries",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"path", "outcome"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) observe(path, outcome string, d time.Duration) {
	m.RequestDuration.WithLabelValues(path, outcome).Observe(d.Seconds())
}
