package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// bridgeMetrics - Prometheus метрики конференц-моста
type bridgeMetrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	ports        prometheus.Gauge
	edges        prometheus.Gauge
	sourceErrors *prometheus.CounterVec
	sinkErrors   *prometheus.CounterVec
}

// newBridgeMetrics регистрирует метрики в config.Registerer.
// Без Registerer используется приватный реестр моста.
func newBridgeMetrics(config Config) *bridgeMetrics {
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	ns := config.MetricsNamespace

	return &bridgeMetrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "bridge",
			Name:      "ticks_total",
			Help:      "Total number of processed frames",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "bridge",
			Name:      "tick_duration_seconds",
			Help:      "Frame processing duration",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02},
		}),
		ports: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "bridge",
			Name:      "ports",
			Help:      "Number of registered ports",
		}),
		edges: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "bridge",
			Name:      "edges",
			Help:      "Number of transmission edges",
		}),
		sourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "bridge",
			Name:      "source_errors_total",
			Help:      "Frames replaced with silence after a source error",
		}, []string{"kind"}),
		sinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "bridge",
			Name:      "sink_errors_total",
			Help:      "Frames rejected by a sink",
		}, []string{"kind"}),
	}
}
