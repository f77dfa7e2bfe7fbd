package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsEngine holds the Prometheus metrics for the cycle scheduler and
// gap detector (§4.J cycle/gap metrics).
type metricsEngine struct {
	once sync.Once

	cyclesTotal      prometheus.Counter
	cycleErrorsTotal prometheus.Counter
	cycleDuration    prometheus.Histogram
	filesIngested    prometheus.Counter
	gapsDetected     prometheus.Counter
	gapsRecovered    prometheus.Counter
}

var engMetrics metricsEngine

func (m *metricsEngine) init() {
	m.once.Do(func() {
		m.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "warehouse_engine_cycles_total", Help: "Completed engine cycles"})
		m.cycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "warehouse_engine_cycle_errors_total", Help: "Engine cycles that returned an error"})
		m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warehouse_engine_cycle_seconds",
			Help:    "Engine cycle duration",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		})
		m.filesIngested = prometheus.NewCounter(prometheus.CounterOpts{Name: "warehouse_engine_files_ingested_total", Help: "Files ingested across all cycles"})
		m.gapsDetected = prometheus.NewCounter(prometheus.CounterOpts{Name: "warehouse_engine_gaps_detected_total", Help: "Synchronizer coverage gaps detected"})
		m.gapsRecovered = prometheus.NewCounter(prometheus.CounterOpts{Name: "warehouse_engine_gaps_recovered_total", Help: "Synchronizer coverage gaps auto-recovered"})

		prometheus.MustRegister(
			m.cyclesTotal, m.cycleErrorsTotal, m.cycleDuration,
			m.filesIngested, m.gapsDetected, m.gapsRecovered,
		)
	})
}
