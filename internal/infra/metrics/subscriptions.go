package metrics

import (
	"novacv/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		entitlementsExpiredTotal,
		entitlementsByPlan,
		gateDecisionsTotal,
		usageConsumedTotal,
		consistencyRepairsTotal,
	)
}

var (
	entitlementsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_expired_total",
			Help: "Total number of entitlements flipped to expired by the sweep.",
		},
	)

	entitlementsByPlan = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitlements_by_plan",
			Help: "Current number of users by plan.",
		},
		[]string{"plan"},
	)

	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_gate_decisions_total",
			Help: "Feature gate decisions by feature and reason.",
		},
		[]string{"feature", "reason"},
	)

	usageConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_consumed_total",
			Help: "Units of countable features consumed.",
		},
		[]string{"feature", "plan"},
	)

	consistencyRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_consistency_repairs_total",
			Help: "Projections found out of sync with the ledger and rewritten.",
		},
	)
)

func IncEntitlementsExpired(count int) {
	entitlementsExpiredTotal.Add(float64(count))
}

func SetEntitlementsByPlan(counts map[model.PlanID]int) {
	for _, p := range model.KnownPlans {
		entitlementsByPlan.WithLabelValues(string(p)).Set(float64(counts[p]))
	}
}

func IncGateDecision(feature, reason string) {
	gateDecisionsTotal.WithLabelValues(feature, norm(reason)).Inc()
}

func AddUsage(feature, plan string, amount int64) {
	usageConsumedTotal.WithLabelValues(feature, norm(plan)).Add(float64(amount))
}

func IncConsistencyRepair() {
	consistencyRepairsTotal.Inc()
}
