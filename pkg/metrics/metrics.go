// Package metrics provides Prometheus instrumentation for the import
// pipeline. Counters are labeled by destination table so multi-table
// operators can tell their runs apart.
//
// Usage:
//
//	metrics.EntriesDecoded.WithLabelValues(table).Add(float64(n))
//	timer := prometheus.NewTimer(metrics.ImportDuration.WithLabelValues(table))
//	defer timer.ObserveDuration()
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesDecoded counts top-level entries read from the JSON document
	EntriesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pji_entries_decoded_total",
		Help: "Total top-level JSON entries decoded",
	}, []string{"table"})

	// RowsFlattened counts candidate rows produced by flattening
	RowsFlattened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pji_rows_flattened_total",
		Help: "Total candidate rows produced by flattening",
	}, []string{"table"})

	// RowsRejected counts rows dropped for a dangling foreign key
	RowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pji_rows_rejected_total",
		Help: "Total rows rejected by foreign-key validation",
	}, []string{"table"})

	// RowsFailedCoercion counts rows excluded by a coercion failure
	RowsFailedCoercion = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pji_rows_failed_coercion_total",
		Help: "Total rows excluded because a value could not be normalized",
	}, []string{"table"})

	// RowsCommitted counts rows committed to the target table
	RowsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pji_rows_committed_total",
		Help: "Total rows committed to the target table",
	}, []string{"table"})

	// RunsRolledBack counts runs that ended in a rollback
	RunsRolledBack = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pji_runs_rolled_back_total",
		Help: "Total import runs that were rolled back",
	}, []string{"table"})

	// ImportDuration observes wall-clock run duration in seconds
	ImportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pji_import_duration_seconds",
		Help:    "Import run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"table"})
)
