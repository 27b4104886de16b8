// Package metrics declares the collector's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchOutcomes counts classified fetch results.
	FetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_fetch_outcomes_total",
			Help: "Classified metric fetch outcomes",
		},
		[]string{"platform", "metric", "outcome"},
	)

	// FetchDuration observes one fetch attempt including every request it issues.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_fetch_duration_seconds",
			Help:    "Duration of metric fetch attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform", "metric"},
	)

	// LoopTerminations counts how day loops ended.
	LoopTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_day_loop_terminations_total",
			Help: "Day-loop terminations by reason",
		},
		[]string{"platform", "metric", "reason"},
	)

	// SessionEvents counts refresh and login attempts.
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_session_events_total",
			Help: "Credential refresh/login attempts by result",
		},
		[]string{"platform", "kind", "result"},
	)

	// RecordsMerged counts fragments folded into daily records.
	RecordsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_records_merged_total",
			Help: "Fragments merged into daily stat records",
		},
		[]string{"platform"},
	)

	// ExportBatches counts export batches by sink and result.
	ExportBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_export_batches_total",
			Help: "Export batches pushed to the central store",
		},
		[]string{"sink", "result"},
	)

	// ExportRows counts rows the central store reported as written.
	ExportRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_export_rows_total",
			Help: "Rows acknowledged by the central store",
		},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collector_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// RunsActive is 1 while a collection run is in progress.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_runs_active",
			Help: "Collection runs currently in progress",
		},
	)
)
