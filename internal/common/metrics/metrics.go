// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AutosaveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autosave_attempts_total",
			Help: "Total number of autosave attempts by result",
		},
		[]string{"result"},
	)

	AutosaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "autosave_duration_seconds",
			Help: "Duration of autosave partial updates in seconds",
		},
	)

	AutosaveCoalescedEdits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autosave_coalesced_edits_total",
			Help: "Edits folded into an already scheduled or running save",
		},
	)

	AutosaveInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autosave_in_flight",
			Help: "Number of autosave writes currently in flight",
		},
	)

	IdentityRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_requests_total",
			Help: "Application id resolutions by source (cache, store, remote) and result",
		},
		[]string{"source", "result"},
	)

	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_transitions_total",
			Help: "Step controller transitions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_requests_total",
			Help: "Per-step and full submissions by target and result",
		},
		[]string{"target", "result"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "submission_duration_seconds",
			Help: "Duration of submissions in seconds",
		},
		[]string{"target"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_notifications_total",
			Help: "Post-submission notifications by channel and result",
		},
		[]string{"channel", "result"},
	)
)
