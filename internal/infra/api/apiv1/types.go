// Package apiv1 is the HTTP surface described by api/openapi.yaml.
package apiv1

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -generate spec -package apiv1 -o spec.gen.go ../../../../api/openapi.yaml

import (
	"novacv/internal/domain/model"
)

type Plan struct {
	ID           model.PlanID                         `json:"id"`
	Name         string                               `json:"name"`
	PriceCents   int64                                `json:"priceCents"`
	Currency     string                               `json:"currency"`
	Billing      string                               `json:"billing"`
	DurationDays *int                                 `json:"durationDays,omitempty"`
	Features     map[model.Feature]model.FeatureValue `json:"features"`
}

type PlanList struct {
	Plans []Plan `json:"plans"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type CheckoutRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

type UsageRequest struct {
	Feature string `json:"feature" validate:"required"`
	Amount  int64  `json:"amount" validate:"omitempty,min=1,max=1000"`
}

type GenerateRequest struct {
	Section string `json:"section" validate:"required"`
	Prompt  string `json:"prompt" validate:"required,max=16000"`
}

type SubscriptionHistory struct {
	UserID        string                      `json:"userId"`
	Subscriptions []*model.SubscriptionRecord `json:"subscriptions"`
}

type Health struct {
	Status string `json:"status"`
}

func toPlan(p *model.PlanDefinition) Plan {
	billing := "recurring"
	switch {
	case p.IsFree():
		billing = "free"
	case !p.IsRecurring():
		billing = "one_time"
	}
	return Plan{
		ID:           p.ID,
		Name:         p.Name,
		PriceCents:   p.PriceCents,
		Currency:     p.Currency,
		Billing:      billing,
		DurationDays: p.DurationDays,
		Features:     p.Features,
	}
}
