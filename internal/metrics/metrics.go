// Package metrics holds the Prometheus collectors for transaction
// submission and event synchronization.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "repairsync"

// Metrics groups every collector the module exports.
type Metrics struct {
	Submissions     *prometheus.CounterVec
	SubmitErrors    *prometheus.CounterVec
	SubmitRetries   *prometheus.CounterVec
	SubmitDuration  prometheus.Histogram
	ActionsInFlight prometheus.Gauge

	EventsApplied     *prometheus.CounterVec
	EventsDuplicate   prometheus.Counter
	EventsUndecodable prometheus.Counter
	Backfills         *prometheus.CounterVec
	Resubscribes      prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "transactions_total",
			Help:      "Transactions that left the submission pipeline, by outcome.",
		}, []string{"method", "outcome"}),
		SubmitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "errors_total",
			Help:      "Classified submission failures, by kind.",
		}, []string{"kind"}),
		SubmitRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "retries_total",
			Help:      "Calls retried after the node throttled them, by step.",
		}, []string{"step"}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "duration_seconds",
			Help:      "Wall time from probe to confirmation or failure.",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 120},
		}),
		ActionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "actions_in_flight",
			Help:      "Submitted actions whose event has not been observed yet.",
		}),
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_applied_total",
			Help:      "Events applied to the projection, by type.",
		}, []string{"type"}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_duplicate_total",
			Help:      "Events dropped because their key was already applied.",
		}),
		EventsUndecodable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_undecodable_total",
			Help:      "Logs skipped because their data could not be decoded.",
		}),
		Backfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "backfills_total",
			Help:      "Historical log queries, by result.",
		}, []string{"result"}),
		Resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "resubscribes_total",
			Help:      "Live subscriptions re-established after a drop.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Submissions, m.SubmitErrors, m.SubmitRetries, m.SubmitDuration, m.ActionsInFlight,
			m.EventsApplied, m.EventsDuplicate, m.EventsUndecodable, m.Backfills, m.Resubscribes,
		)
	}
	return m
}

// Submitted records a finished submission. outcome is "confirmed" or "failed".
func (m *Metrics) Submitted(method, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(method, outcome).Inc()
	m.SubmitDuration.Observe(took.Seconds())
}

// SubmitFailed counts a classified failure.
func (m *Metrics) SubmitFailed(kind string) {
	if m == nil {
		return
	}
	m.SubmitErrors.WithLabelValues(kind).Inc()
}

// Retried counts one throttled call that will be retried.
func (m *Metrics) Retried(step string) {
	if m == nil {
		return
	}
	m.SubmitRetries.WithLabelValues(step).Inc()
}

// SetInFlight reports the number of pending actions.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.ActionsInFlight.Set(float64(n))
}

// Applied counts an event written to the projection.
func (m *Metrics) Applied(eventType string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(eventType).Inc()
}

// Duplicate counts an event skipped by deduplication.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.EventsDuplicate.Inc()
}

// Undecodable counts a skipped log.
func (m *Metrics) Undecodable() {
	if m == nil {
		return
	}
	m.EventsUndecodable.Inc()
}

// Backfilled counts a historical query. result is "ok" or "error".
func (m *Metrics) Backfilled(result string) {
	if m == nil {
		return
	}
	m.Backfills.WithLabelValues(result).Inc()
}

// Resubscribed counts a recovered subscription.
func (m *Metrics) Resubscribed() {
	if m == nil {
		return
	}
	m.Resubscribes.Inc()
}
