// Package metrics exposes Prometheus instruments for the compute core:
// task settlement counters, queue gauges, latency histograms, and cache
// effectiveness counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OperationsCompleted tracks successfully settled operations by kind.
var OperationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hyde",
	Name:      "operations_completed_total",
	Help:      "Total operations settled successfully.",
}, []string{"kind"})

// OperationsFailed tracks failed operations by kind and failure status.
var OperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hyde",
	Name:      "operations_failed_total",
	Help:      "Total operations settled with an error.",
}, []string{"kind", "status"})

// SchedulerBacklog tracks the current backlog depth.
var SchedulerBacklog = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "hyde",
	Name:      "scheduler_backlog",
	Help:      "Tasks waiting for a concurrency slot.",
})

// SchedulerInFlight tracks currently executing tasks.
var SchedulerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "hyde",
	Name:      "scheduler_in_flight",
	Help:      "Tasks currently being executed.",
})

// WaitLatency tracks time from submission to dispatch.
var WaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "hyde",
	Name:      "task_wait_seconds",
	Help:      "Time tasks spend in the backlog.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
})

// ExecLatency tracks executor run time by kind.
var ExecLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "hyde",
	Name:      "task_exec_seconds",
	Help:      "Executor invocation duration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

// CacheHits tracks result cache hits.
var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "hyde",
	Name:      "cache_hits_total",
	Help:      "Requests answered from the result cache.",
})

// CacheEntries tracks the current result cache size.
var CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "hyde",
	Name:      "cache_entries",
	Help:      "Entries currently held by the result cache.",
})

// PredictionsScheduled tracks speculative prefetches issued by the viewport.
var PredictionsScheduled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "hyde",
	Name:      "predictions_scheduled_total",
	Help:      "Viewport items prefetched speculatively.",
})
