package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usersRegisteredTotal,
		rateLimitTriggeredTotal,
		alertsSentTotal,
	)
}

var (
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Total number of new users registered.",
		},
	)

	rateLimitTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_triggered_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
		[]string{"action"},
	)

	alertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ops_alerts_total",
			Help: "Operator alerts by severity and delivery result.",
		},
		[]string{"severity", "result"},
	)
)

func IncUsersRegistered() {
	usersRegisteredTotal.Inc()
}

func IncRateLimitTriggered(action string) {
	rateLimitTriggeredTotal.WithLabelValues(norm(action)).Inc()
}

func IncAlert(severity, result string) {
	alertsSentTotal.WithLabelValues(norm(severity), norm(result)).Inc()
}
