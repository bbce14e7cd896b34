package calculation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the calculation pipeline.
type Metrics struct {
	Requests      *prometheus.CounterVec
	Promotions    prometheus.Counter
	StaleDiscards *prometheus.CounterVec
}

// NewMetrics returns the process-wide calculation metrics, registering them
// on first use:
//   - trilat_calculation_requests_total{kind,outcome}
//   - trilat_calculation_promotions_total
//   - trilat_calculation_stale_discards_total{kind}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trilat_calculation_requests_total",
					Help: "Solver requests issued by the calculation pipeline",
				},
				[]string{"kind", "outcome"},
			),
			Promotions: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "trilat_calculation_promotions_total",
					Help: "Previews confident enough to trigger a confirmed computation",
				},
			),
			StaleDiscards: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trilat_calculation_stale_discards_total",
					Help: "Solver responses discarded because the points changed",
				},
				[]string{"kind"},
			),
		}
	})
	return globalMetrics
}
