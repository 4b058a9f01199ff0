package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(userCacheLookups, userCacheInvalidations) }

var (
	userCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_cache_lookups_total",
			Help: "User entitlement reads by how the Redis cache served them.",
		},
		[]string{"result"}, // hit|miss|bypass|error
	)

	userCacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_cache_invalidations_total",
			Help: "Cached entitlements dropped after a committed write.",
		},
		[]string{"result"},
	)
)

// IncUserCacheLookup counts one FindByID. Reads inside a transaction are a
// bypass; a Redis failure that falls back to Postgres is an error.
func IncUserCacheLookup(result string) {
	userCacheLookups.WithLabelValues(norm(result)).Inc()
}

func IncUserCacheInvalidation(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	userCacheInvalidations.WithLabelValues(result).Inc()
}
