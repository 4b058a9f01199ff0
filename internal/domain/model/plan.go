package model

import (
	"encoding/json"
	"sort"
	"time"
)

type PlanID string

const (
	PlanFree  PlanID = "free"
	PlanBasic PlanID = "basic"
	PlanPro   PlanID = "pro"
)

// KnownPlans is the closed set of plan ids, in display order.
var KnownPlans = []PlanID{PlanFree, PlanBasic, PlanPro}

func (id PlanID) Valid() bool {
	for _, p := range KnownPlans {
		if p == id {
			return true
		}
	}
	return false
}

type Feature string

const (
	FeatureAIGenerations   Feature = "aiGenerations"
	FeatureResumes         Feature = "resumes"
	FeatureExports         Feature = "exports"
	FeatureTemplates       Feature = "templates"
	FeatureWatermark       Feature = "watermark"
	FeatureAnalytics       Feature = "analytics"
	FeatureATSOptimization Feature = "atsOptimization"
)

type FeatureKind string

const (
	KindLimit FeatureKind = "limit"
	KindFlag  FeatureKind = "flag"
	KindList  FeatureKind = "list"
)

// GatedFeatures is every feature the gate can be asked about, with the value
// kind each plan must declare for it.
var GatedFeatures = map[Feature]FeatureKind{
	FeatureAIGenerations:   KindLimit,
	FeatureResumes:         KindLimit,
	FeatureExports:         KindList,
	FeatureTemplates:       KindList,
	FeatureWatermark:       KindFlag,
	FeatureAnalytics:       KindFlag,
	FeatureATSOptimization: KindFlag,
}

// AllFeatures returns GatedFeatures keys in a stable order.
func AllFeatures() []Feature {
	out := make([]Feature, 0, len(GatedFeatures))
	for f := range GatedFeatures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Unlimited marks a countable feature without a ceiling.
const Unlimited int64 = -1

// FeatureValue is a per-plan feature setting: a usage limit, an on/off flag,
// or a list of allowed values (export formats, template tiers).
type FeatureValue struct {
	Kind    FeatureKind
	Limit   int64
	Enabled bool
	Values  []string
}

func LimitValue(n int64) FeatureValue { return FeatureValue{Kind: KindLimit, Limit: n} }
func FlagValue(b bool) FeatureValue   { return FeatureValue{Kind: KindFlag, Enabled: b} }
func ListValue(vs ...string) FeatureValue {
	return FeatureValue{Kind: KindList, Values: append([]string(nil), vs...)}
}

func (v FeatureValue) Contains(s string) bool {
	for _, x := range v.Values {
		if x == s {
			return true
		}
	}
	return false
}

// MarshalJSON renders the bare value: a number, a boolean or an array.
func (v FeatureValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindLimit:
		return json.Marshal(v.Limit)
	case KindFlag:
		return json.Marshal(v.Enabled)
	default:
		if v.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Values)
	}
}

// PlanDefinition is an immutable catalog entry.
type PlanDefinition struct {
	ID              PlanID
	Name            string
	PriceCents      int64
	Currency        string
	DurationDays    *int // nil: recurring monthly
	ProviderPriceID string
	Features        map[Feature]FeatureValue
}

func (p *PlanDefinition) IsRecurring() bool { return p.DurationDays == nil }

func (p *PlanDefinition) IsFree() bool { return p.ID == PlanFree }

func (p *PlanDefinition) Feature(f Feature) (FeatureValue, bool) {
	if p == nil {
		return FeatureValue{}, false
	}
	v, ok := p.Features[f]
	return v, ok
}

// PeriodEnd is when a cycle started at start runs out.
func (p *PlanDefinition) PeriodEnd(start time.Time) time.Time {
	if p.DurationDays != nil {
		return start.Add(time.Duration(*p.DurationDays) * 24 * time.Hour)
	}
	return start.AddDate(0, 1, 0)
}

// FreshUsage returns zeroed counters carrying this plan's limits.
func (p *PlanDefinition) FreshUsage() map[Feature]UsageCounter {
	out := make(map[Feature]UsageCounter)
	for f, v := range p.Features {
		if v.Kind == KindLimit {
			out[f] = UsageCounter{Used: 0, Limit: v.Limit}
		}
	}
	return out
}
