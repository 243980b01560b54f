// Package metrics содержит prometheus-метрики пайплайна обогащения.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestrator
	EnrichmentRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dime",
		Subsystem: "enrichment",
		Name:      "runs_total",
		Help:      "Total bulk enrichment runs",
	})

	RowsCategorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dime",
		Subsystem: "enrichment",
		Name:      "rows_categorized_total",
		Help:      "Total rows with a category written",
	})

	RowsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dime",
		Subsystem: "enrichment",
		Name:      "rows_failed_total",
		Help:      "Total rows that failed category or points persistence",
	})

	PointsCalculatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dime",
		Subsystem: "enrichment",
		Name:      "points_calculated_total",
		Help:      "Total rows with points computed and written",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dime",
		Subsystem: "enrichment",
		Name:      "run_duration_seconds",
		Help:      "Bulk enrichment run duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// Analytics
	SampleFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dime",
		Subsystem: "analytics",
		Name:      "sample_fallbacks_total",
		Help:      "Total analytics responses served from sample data",
	}, []string{"view"})
)
