package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(webhookEventsTotal, webhookDuration)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook deliveries by event type and outcome.",
		},
		[]string{"provider", "event_type", "outcome"}, // outcome: applied|stale|ignored|unmatched|duplicate|in_flight|invalid|failed
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_seconds",
			Help:    "Time spent applying a webhook event.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"event_type"},
	)
)

func IncWebhook(provider, eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(provider), norm(eventType), norm(outcome)).Inc()
}

func ObserveWebhook(eventType string, d time.Duration) {
	webhookDuration.WithLabelValues(norm(eventType)).Observe(d.Seconds())
}
