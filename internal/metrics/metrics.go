// Package metrics exposes Prometheus instrumentation for sync runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_runs_total",
			Help: "Total number of account sync runs by outcome",
		},
		[]string{"account", "outcome"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_run_duration_seconds",
			Help:    "Duration of account sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"account"},
	)

	CursorFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_cursor_fallbacks_total",
			Help: "Total number of history cursors rejected and replaced by query listing",
		},
		[]string{"account"},
	)
)

// Message metrics
var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_messages_total",
			Help: "Total number of messages handled by result",
		},
		[]string{"account", "result"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_notifications_total",
			Help: "Total number of sync completed events by sink and status",
		},
		[]string{"sink", "status"},
	)
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Message results.
const (
	ResultStored    = "stored"
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// RecordRun records the outcome and duration of one account run.
func RecordRun(account, outcome string, seconds float64) {
	SyncRunsTotal.WithLabelValues(account, outcome).Inc()
	SyncRunDuration.WithLabelValues(account).Observe(seconds)
}

// RecordMessage counts one handled message.
func RecordMessage(account, result string) {
	MessagesTotal.WithLabelValues(account, result).Inc()
}
