package progress

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsProgress holds the build-progress gauges named in §4.F.
type metricsProgress struct {
	once sync.Once

	buildCurrent prometheus.Gauge
	buildTotal   prometheus.Gauge
	buildETA     prometheus.Gauge
}

var progMetrics metricsProgress

func (m *metricsProgress) init() {
	m.once.Do(func() {
		m.buildCurrent = prometheus.NewGauge(prometheus.GaugeOpts{Name: "warehouse_build_progress_current", Help: "Current item count of the active build"})
		m.buildTotal = prometheus.NewGauge(prometheus.GaugeOpts{Name: "warehouse_build_progress_total", Help: "Total item count of the active build"})
		m.buildETA = prometheus.NewGauge(prometheus.GaugeOpts{Name: "warehouse_build_progress_eta_seconds", Help: "Estimated seconds remaining for the active build"})

		prometheus.MustRegister(m.buildCurrent, m.buildTotal, m.buildETA)
	})
}
