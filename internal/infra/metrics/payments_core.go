package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		checkoutsTotal,
		paymentsRevenueTotal,
		cancellationsTotal,
	)
}

var (
	checkoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkout sessions by plan and result (created/rejected/failed).",
		},
		[]string{"plan", "result"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of completed payments in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	cancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_cancellations_total",
			Help: "User-initiated cancellations by result.",
		},
		[]string{"result"},
	)
)

func IncCheckout(plan, result string) {
	checkoutsTotal.WithLabelValues(norm(plan), norm(result)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	if amount <= 0 {
		return
	}
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncCancellation(result string) {
	cancellationsTotal.WithLabelValues(norm(result)).Inc()
}
