// File: internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts form submissions.
	// Labels: mode (single, batch), outcome (sent, failed, rejected)
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formpilot",
		Subsystem: "engine",
		Name:      "submissions_total",
		Help:      "Total form submissions by mode and outcome",
	}, []string{"mode", "outcome"})

	// FillFailuresTotal counts sequencer failures by stage.
	FillFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formpilot",
		Subsystem: "filler",
		Name:      "failures_total",
		Help:      "Total form fill failures by stage",
	}, []string{"stage"})

	// SubmissionDuration measures a single fill-and-submit cycle.
	SubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "formpilot",
		Subsystem: "engine",
		Name:      "submission_duration_seconds",
		Help:      "Duration of one fill-and-submit cycle in seconds",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"mode"})

	// BatchesTotal counts batches by terminal state.
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formpilot",
		Subsystem: "engine",
		Name:      "batches_total",
		Help:      "Total batches by terminal state",
	}, []string{"state"})

	// JobsInFlight is 1 while an automation job holds the browser.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "formpilot",
		Subsystem: "engine",
		Name:      "jobs_in_flight",
		Help:      "Automation jobs currently running",
	})
)
