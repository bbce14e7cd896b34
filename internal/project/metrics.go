package project

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the project store.
type Metrics struct {
	WritesTotal     *prometheus.CounterVec
	MigrationsTotal *prometheus.CounterVec
	CorruptedTotal  prometheus.Counter
	Projects        prometheus.Gauge
	DocumentBytes   prometheus.Gauge
}

// NewMetrics returns the process-wide store metrics, registering them on
// first use.
//
// Metrics:
//   - trilat_store_writes_total{outcome} - document writes by outcome
//   - trilat_store_migrations_total{from} - documents upgraded on read
//   - trilat_store_corrupted_total - unreadable documents replaced
//   - trilat_store_projects - projects in the last written document
//   - trilat_store_document_bytes - serialized size of the last written document
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WritesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trilat_store_writes_total",
					Help: "Total number of project document writes",
				},
				[]string{"outcome"}, // "ok", "quota_exceeded", "error"
			),
			MigrationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trilat_store_migrations_total",
					Help: "Total number of documents migrated on read",
				},
				[]string{"from"},
			),
			CorruptedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "trilat_store_corrupted_total",
					Help: "Total number of corrupted documents replaced with defaults",
				},
			),
			Projects: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "trilat_store_projects",
					Help: "Number of stored projects",
				},
			),
			DocumentBytes: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "trilat_store_document_bytes",
					Help: "Serialized size of the project document in bytes",
				},
			),
		}
	})
	return globalMetrics
}
