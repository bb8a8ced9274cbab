package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		reconcileUsersTotal,
		reconcileRunsTotal,
		reconcileRunDuration,
		driftIssues,
	)
}

var (
	reconcileUsersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_users_total",
			Help: "Users processed by reconciliation, labeled by result.",
		},
		[]string{"result"}, // 'updated', 'unchanged', 'failed'
	)

	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Batch runs by kind and status.",
		},
		[]string{"kind", "status"}, // kind: sync|validate|fix, status: ok|fatal|skipped
	)

	reconcileRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_run_duration_seconds",
			Help:    "Duration of batch runs in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	driftIssues = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drift_issues",
			Help: "Issues found by the last validation run, by type.",
		},
		[]string{"type"},
	)
)

func IncReconcileUser(result string) {
	reconcileUsersTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveRun(kind, status string, elapsed time.Duration) {
	reconcileRunsTotal.WithLabelValues(norm(kind), norm(status)).Inc()
	reconcileRunDuration.WithLabelValues(norm(kind)).Observe(elapsed.Seconds())
}

// SetDriftIssues publishes the per-type counts of the latest validation report.
func SetDriftIssues(byType map[string]int) {
	driftIssues.Reset()
	for t, n := range byType {
		driftIssues.WithLabelValues(t).Set(float64(n))
	}
}
