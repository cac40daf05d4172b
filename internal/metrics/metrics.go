// Package metrics exposes Prometheus collectors for the retry loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished sessions by terminal outcome.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supercoder_sessions_total",
		Help: "Finished sessions by outcome.",
	}, []string{"outcome"})

	// AttemptsTotal counts started attempts across all sessions.
	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supercoder_attempts_total",
		Help: "Generate, extract, execute attempts started.",
	})

	// ActiveSessions tracks sessions currently inside the retry loop.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supercoder_active_sessions",
		Help: "Sessions currently running.",
	})

	// GenerationDuration observes wall time of generation requests.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supercoder_generation_duration_seconds",
		Help:    "Latency of code generation requests.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// ExecutionDuration observes wall time of candidate code runs.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supercoder_execution_duration_seconds",
		Help:    "Latency of candidate code executions.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)
