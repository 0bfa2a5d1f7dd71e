package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var WritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "writes_total",
	Help:      "Write operations routed to a backend, by delivery mode.",
}, []string{"backend", "mode"})

var WriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "write_failures_total",
	Help:      "Write operations that failed on a backend after fallback.",
}, []string{"backend"})

var TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "tasks_processed_total",
}, []string{"backend", "op"})

var QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "queue_length",
}, []string{"backend"})

var ProcessorsOutstanding = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "processors_outstanding",
})

var RebuildProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "rebuild_progress_percent",
}, []string{"backend"})

var ProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "zep",
	Subsystem: "index",
	Name:      "process_duration_seconds",
	Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
}, []string{"backend"})

// Collectors lists every orchestrator metric for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		WritesTotal,
		WriteFailures,
		TasksProcessed,
		QueueLength,
		ProcessorsOutstanding,
		RebuildProgress,
		ProcessDuration,
	}
}

const (
	modeSync  = "sync"
	modeAsync = "async"
)
