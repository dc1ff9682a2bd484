// Package metrics holds the Prometheus collectors for the points ledger.
// Collectors register on the default registry and are served by promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Apply outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// ─── Coordinator ────────────────────────────────────────────────────────────

// Applies counts Apply calls by ledger reason and outcome.
var Applies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "applies_total",
	Help:      "Total Apply calls by reason and outcome.",
}, []string{"reason", "outcome"})

// PointsMoved sums absolute point movement by reason and direction.
var PointsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "points_total",
	Help:      "Total points credited or debited by reason.",
}, []string{"reason", "direction"})

// ApplyDuration observes end-to-end Apply latency.
var ApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "apply_duration_seconds",
	Help:      "Apply latency including the per-account lock wait.",
	Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
}, []string{"reason"})

// LockWait observes time spent waiting for the per-account lock.
var LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "lock_wait_seconds",
	Help:      "Time spent waiting for the per-account lock.",
	Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
})

// StreakMilestones counts milestone bonuses paid by streak length.
var StreakMilestones = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "streak",
	Name:      "milestones_total",
	Help:      "Total streak milestone bonuses paid.",
}, []string{"length"})

// ─── Integrity audit ────────────────────────────────────────────────────────

// AuditRuns counts integrity audit passes by result.
var AuditRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "audit",
	Name:      "runs_total",
	Help:      "Total integrity audit runs by result.",
}, []string{"result"})

// AuditViolations counts accounts whose balance chain did not verify.
var AuditViolations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "audit",
	Name:      "violations_total",
	Help:      "Total accounts found with a broken balance chain.",
})

// AuditAccounts is the number of accounts checked by the last audit.
var AuditAccounts = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "points",
	Subsystem: "audit",
	Name:      "accounts_checked",
	Help:      "Accounts checked by the most recent audit run.",
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts API responses by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by route and status.",
}, []string{"route", "status"})

// ObserveApply records one finished Apply call.
func ObserveApply(reason, outcome string, delta int64, started time.Time) {
	Applies.WithLabelValues(reason, outcome).Inc()
	ApplyDuration.WithLabelValues(reason).Observe(time.Since(started).Seconds())
	if outcome != OutcomeCreated || delta == 0 {
		return
	}
	if delta > 0 {
		PointsMoved.WithLabelValues(reason, "credit").Add(float64(delta))
	} else {
		PointsMoved.WithLabelValues(reason, "debit").Add(float64(-delta))
	}
}
