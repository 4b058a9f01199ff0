// Package catalog holds the static plan catalog loaded once at startup.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
)

//go:embed plans.yaml
var defaultPlans []byte

type planFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	ID              string               `yaml:"id"`
	Name            string               `yaml:"name"`
	PriceCents      int64                `yaml:"price_cents"`
	Currency        string               `yaml:"currency"`
	DurationDays    *int                 `yaml:"duration_days"`
	ProviderPriceID string               `yaml:"provider_price_id"`
	Features        map[string]yaml.Node `yaml:"features"`
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	plans   map[model.PlanID]*model.PlanDefinition
	byPrice map[string]*model.PlanDefinition
}

type Option func(*options)

type options struct {
	priceIDs map[string]string
}

// WithPriceIDs overrides provider price ids per plan id, so one catalog file
// serves sandbox and live provider accounts.
func WithPriceIDs(ids map[string]string) Option {
	return func(o *options) { o.priceIDs = ids }
}

// Default loads the embedded catalog.
func Default(opts ...Option) (*Catalog, error) {
	return Parse(defaultPlans, opts...)
}

// Load reads the catalog from path, or the embedded one when path is empty.
func Load(path string, opts ...Option) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(opts...)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans: %w", err)
	}
	return Parse(b, opts...)
}

func Parse(b []byte, opts ...Option) (*Catalog, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var f planFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}

	c := &Catalog{
		plans:   make(map[model.PlanID]*model.PlanDefinition, len(f.Plans)),
		byPrice: make(map[string]*model.PlanDefinition),
	}
	var errs []error
	for _, e := range f.Plans {
		p, err := e.toPlan()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id, ok := o.priceIDs[string(p.ID)]; ok && id != "" {
			p.ProviderPriceID = id
		}
		if _, dup := c.plans[p.ID]; dup {
			errs = append(errs, fmt.Errorf("plan %q: duplicate id", p.ID))
			continue
		}
		c.plans[p.ID] = p
		if p.ProviderPriceID != "" {
			c.byPrice[p.ProviderPriceID] = p
		}
	}
	errs = append(errs, c.validate()...)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	return c, nil
}

func (e planEntry) toPlan() (*model.PlanDefinition, error) {
	p := &model.PlanDefinition{
		ID:              model.PlanID(strings.ToLower(strings.TrimSpace(e.ID))),
		Name:            e.Name,
		PriceCents:      e.PriceCents,
		Currency:        strings.ToUpper(e.Currency),
		DurationDays:    e.DurationDays,
		ProviderPriceID: e.ProviderPriceID,
		Features:        make(map[model.Feature]model.FeatureValue, len(e.Features)),
	}
	for name, node := range e.Features {
		v, err := decodeFeature(node)
		if err != nil {
			return nil, fmt.Errorf("plan %q feature %q: %w", e.ID, name, err)
		}
		p.Features[model.Feature(name)] = v
	}
	return p, nil
}

func decodeFeature(n yaml.Node) (model.FeatureValue, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var vs []string
		if err := n.Decode(&vs); err != nil {
			return model.FeatureValue{}, err
		}
		return model.ListValue(vs...), nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return model.FeatureValue{}, err
			}
			return model.FlagValue(b), nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return model.FeatureValue{}, err
			}
			if i < model.Unlimited {
				return model.FeatureValue{}, fmt.Errorf("limit %d below -1", i)
			}
			return model.LimitValue(i), nil
		}
	}
	return model.FeatureValue{}, fmt.Errorf("unsupported value %q", n.Value)
}

func (c *Catalog) validate() []error {
	var errs []error
	if _, ok := c.plans[model.PlanFree]; !ok {
		errs = append(errs, errors.New("free plan is required"))
	}
	for id, p := range c.plans {
		if !id.Valid() {
			errs = append(errs, fmt.Errorf("plan %q: unknown id", id))
		}
		if p.PriceCents < 0 {
			errs = append(errs, fmt.Errorf("plan %q: negative price", id))
		}
		if p.Currency == "" {
			errs = append(errs, fmt.Errorf("plan %q: currency is required", id))
		}
		if p.DurationDays != nil && *p.DurationDays <= 0 {
			errs = append(errs, fmt.Errorf("plan %q: duration_days must be positive", id))
		}
		if !p.IsFree() && p.PriceCents > 0 && p.ProviderPriceID == "" {
			errs = append(errs, fmt.Errorf("plan %q: provider_price_id is required", id))
		}
		for f, kind := range model.GatedFeatures {
			v, ok := p.Features[f]
			if !ok {
				errs = append(errs, fmt.Errorf("plan %q: missing feature %q", id, f))
				continue
			}
			if v.Kind != kind {
				errs = append(errs, fmt.Errorf("plan %q: feature %q must be a %s", id, f, kind))
			}
		}
	}
	return errs
}

// Get returns the plan or domain.ErrPlanNotFound.
func (c *Catalog) Get(id model.PlanID) (*model.PlanDefinition, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

func (c *Catalog) ByPriceID(priceID string) (*model.PlanDefinition, error) {
	p, ok := c.byPrice[priceID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

// Free is always present; Parse refuses a catalog without it.
func (c *Catalog) Free() *model.PlanDefinition { return c.plans[model.PlanFree] }

// List returns plans in display order.
func (c *Catalog) List() []*model.PlanDefinition {
	out := make([]*model.PlanDefinition, 0, len(c.plans))
	for _, id := range model.KnownPlans {
		if p, ok := c.plans[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
