// Package gate decides whether an entitlement permits a feature. Every
// function here is pure: callers pass the clock and record usage themselves.
package gate

import (
	"time"

	"novacv/internal/domain/model"
)

type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonInactive       Reason = "inactive"
	ReasonUnknownFeature Reason = "unknown_feature"
	ReasonPlanMismatch   Reason = "plan_mismatch"
	ReasonLimitReached   Reason = "limit_reached"
	ReasonDisabled       Reason = "disabled"
)

// Decision is the answer to "can this user use feature X".
// Remaining is model.Unlimited for unlimited features and 0 for non-countable ones.
type Decision struct {
	Feature   model.Feature `json:"feature"`
	Allowed   bool          `json:"allowed"`
	Remaining int64         `json:"remaining"`
	Values    []string      `json:"values,omitempty"`
	Reason    Reason        `json:"reason"`
}

// CanUse evaluates feature for ent under plan at now. Status gates before
// any limit check; a feature the plan does not declare is denied.
func CanUse(ent model.Entitlement, plan *model.PlanDefinition, feature model.Feature, now time.Time) Decision {
	d := Decision{Feature: feature}
	if !ent.IsEntitled(now) {
		d.Reason = ReasonInactive
		return d
	}
	if plan == nil || plan.ID != ent.Plan {
		d.Reason = ReasonPlanMismatch
		return d
	}
	v, ok := plan.Feature(feature)
	if !ok {
		d.Reason = ReasonUnknownFeature
		return d
	}

	switch v.Kind {
	case model.KindLimit:
		if v.Limit == model.Unlimited {
			d.Allowed, d.Remaining, d.Reason = true, model.Unlimited, ReasonOK
			return d
		}
		used := ent.Used(feature)
		if used < v.Limit {
			d.Allowed, d.Remaining, d.Reason = true, v.Limit-used, ReasonOK
			return d
		}
		d.Reason = ReasonLimitReached
	case model.KindFlag:
		d.Allowed = v.Enabled
		d.Reason = ReasonOK
		if !v.Enabled {
			d.Reason = ReasonDisabled
		}
	case model.KindList:
		d.Values = append([]string(nil), v.Values...)
		d.Allowed = len(v.Values) > 0
		d.Reason = ReasonOK
		if !d.Allowed {
			d.Reason = ReasonDisabled
		}
	default:
		d.Reason = ReasonUnknownFeature
	}
	return d
}

// CanConsume reports whether amount more units of a countable feature fit.
func CanConsume(ent model.Entitlement, plan *model.PlanDefinition, feature model.Feature, amount int64, now time.Time) Decision {
	d := CanUse(ent, plan, feature, now)
	if !d.Allowed || d.Remaining == model.Unlimited {
		return d
	}
	v, _ := plan.Feature(feature)
	if v.Kind != model.KindLimit {
		return d
	}
	if amount > d.Remaining {
		d.Allowed = false
		d.Reason = ReasonLimitReached
	}
	return d
}

// CanExport reports whether format is among the plan's export formats.
func CanExport(ent model.Entitlement, plan *model.PlanDefinition, format string, now time.Time) bool {
	d := CanUse(ent, plan, model.FeatureExports, now)
	if !d.Allowed {
		return false
	}
	for _, f := range d.Values {
		if f == format {
			return true
		}
	}
	return false
}

// Watermarked reports whether exports carry the watermark. Anything short
// of an active entitlement is watermarked.
func Watermarked(ent model.Entitlement, plan *model.PlanDefinition, now time.Time) bool {
	d := CanUse(ent, plan, model.FeatureWatermark, now)
	if d.Reason != ReasonOK && d.Reason != ReasonDisabled {
		return true
	}
	return d.Allowed
}

// Evaluate runs CanUse for every gated feature.
func Evaluate(ent model.Entitlement, plan *model.PlanDefinition, now time.Time) map[model.Feature]Decision {
	out := make(map[model.Feature]Decision, len(model.GatedFeatures))
	for _, f := range model.AllFeatures() {
		out[f] = CanUse(ent, plan, f, now)
	}
	return out
}
