package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(aiGenerations, aiTokens, aiLatency, aiBlocked) }

var (
	aiGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novacv_ai_generations_total",
			Help: "Assistant generations by resume section and result.",
		},
		[]string{"section", "result"}, // ok | error
	)

	aiTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novacv_ai_tokens_total",
			Help: "Tokens reported by the AI provider.",
		},
		[]string{"model", "direction"}, // prompt | completion
	)

	aiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novacv_ai_generation_seconds",
			Help:    "Latency of AI provider calls.",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"model"},
	)

	aiBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novacv_ai_precheck_blocked_total",
			Help: "Generations refused before reaching the provider.",
		},
		[]string{"reason"}, // entitlement | prompt_tokens
	)
)

func PrecheckBlocked(reason string) { aiBlocked.WithLabelValues(norm(reason)).Inc() }

func ObserveGeneration(section, model string, promptTokens, completionTokens int, d time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	aiGenerations.WithLabelValues(norm(section), result).Inc()
	aiLatency.WithLabelValues(norm(model)).Observe(d.Seconds())
	if promptTokens > 0 {
		aiTokens.WithLabelValues(norm(model), "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		aiTokens.WithLabelValues(norm(model), "completion").Add(float64(completionTokens))
	}
}
