package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		notificationsTotal,
		ledgerWritesTotal,
		projectionWritesTotal,
		paymentsRevenueTotal,
	)
}

var (
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Gateway notifications by normalized kind and outcome.",
		},
		[]string{"kind", "outcome"}, // kind: paid|pending|closed|unknown, outcome: granted|duplicate|recorded|ignored|rejected|error
	)

	ledgerWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_writes_total",
			Help: "Writes to the payments ledger by operation and result.",
		},
		[]string{"op", "result"}, // op: insert|update
	)

	projectionWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projection_writes_total",
			Help: "Purchased-courses rewrites by source and result.",
		},
		[]string{"source", "result"}, // source: notification|reconcile
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of successful payments, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func IncNotification(kind, outcome string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func IncLedgerWrite(op string, err error) {
	ledgerWritesTotal.WithLabelValues(norm(op), result(err)).Inc()
}

func IncProjectionWrite(source string, err error) {
	projectionWritesTotal.WithLabelValues(norm(source), result(err)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
