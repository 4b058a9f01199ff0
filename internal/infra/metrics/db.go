package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbPoolStats, dbTxDuration) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	dbTxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_tx_duration_seconds",
			Help:    "Duration of database transactions by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // 'commit', 'rollback'
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func ObserveTx(outcome string, d time.Duration) {
	dbTxDuration.WithLabelValues(norm(outcome)).Observe(d.Seconds())
}
