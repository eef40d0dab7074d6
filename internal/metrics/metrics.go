// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline records into.
type Metrics struct {
	FramesAnalyzed  prometheus.Counter
	FramesSkipped   prometheus.Counter
	DetectorLatency prometheus.Histogram
	Violations      *prometheus.CounterVec
	ActiveSequences prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	StoreFailures   prometheus.Counter
	BusPublishes    *prometheus.CounterVec
}

// New registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production wiring.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_frames_analyzed_total",
			Help: "Frames fully processed by the analysis pipeline.",
		}),
		FramesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_frames_skipped_total",
			Help: "Frames skipped because no ROI snapshot was available.",
		}),
		DetectorLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_detector_latency_seconds",
			Help:    "Wall time of the concurrent detector plus ROI fetch per frame.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_violations_total",
			Help: "Violations emitted, by severity and ROI.",
		}, []string{"severity", "roi"}),
		ActiveSequences: factory.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_active_sequences",
			Help: "Currently open hand-in-ROI sequences across sessions.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_active_sessions",
			Help: "Sessions with a live worker goroutine.",
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_store_failures_total",
			Help: "Violation store writes that failed after retries.",
		}),
		BusPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_bus_publishes_total",
			Help: "Event bus publish attempts, by outcome.",
		}, []string{"outcome"}),
	}
}
