// Package metrics provides Prometheus metrics for sync runs. Metrics
// are registered on the default registry; serving them is left to the
// embedding process.
//
// Basic usage:
//
//	metrics.RecordsProcessed.WithLabelValues("orders", "success").Add(float64(n))
//	metrics.PagesFetched.WithLabelValues("orders").Inc()
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts records streamed to the sink
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowsync",
			Subsystem: "sync",
			Name:      "records_processed_total",
			Help:      "Total number of records processed",
		},
		[]string{"connector", "status"},
	)

	// RecordsSkipped counts malformed records dropped from a page
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowsync",
			Subsystem: "sync",
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records skipped",
		},
		[]string{"connector"},
	)

	// PagesFetched counts pages pulled from the source API
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowsync",
			Subsystem: "sync",
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched",
		},
		[]string{"connector"},
	)

	// CheckpointsTotal counts state checkpoints persisted
	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowsync",
			Subsystem: "sync",
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoints written to the state store",
		},
		[]string{"connector"},
	)

	// RetriesTotal counts request retries by error class
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowsync",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Total number of request retries",
		},
		[]string{"error_class"},
	)

	// RequestDuration observes HTTP attempt latency by status class
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP attempts in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"status_class"},
	)

	// SyncDuration observes whole-run duration by terminal phase
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowsync",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
		[]string{"connector", "result"},
	)

	// BatchSize observes records per fetched page
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowsync",
			Subsystem: "sync",
			Name:      "batch_size",
			Help:      "Size of fetched record batches",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
		},
		[]string{"connector"},
	)
)
