package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.payment_failed"
	EventAdjustmentCreated    = "adjustment.created"
)

// WebhookEnvelope is a provider callback whose signature has been checked.
type WebhookEnvelope struct {
	Provider   string
	EventID    string
	EventType  string
	OccurredAt time.Time
	Data       json.RawMessage
	Raw        []byte
}

type CustomData struct {
	UserID string `json:"user_id,omitempty"`
	PlanID string `json:"plan_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

type PayloadPrice struct {
	ID        string `json:"id"`
	UnitPrice *Money `json:"unit_price,omitempty"`
}

type PayloadItem struct {
	PriceID string        `json:"price_id,omitempty"`
	Price   *PayloadPrice `json:"price,omitempty"`
}

type BillingPeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type TransactionTotals struct {
	Total        string `json:"total"`
	CurrencyCode string `json:"currency_code"`
}

type TransactionDetails struct {
	Totals *TransactionTotals `json:"totals,omitempty"`
}

// ProviderPayload is the union of the `data` fields the processor reads from
// subscription, transaction and adjustment events.
type ProviderPayload struct {
	ID                   string              `json:"id"`
	Status               string              `json:"status"`
	Action               string              `json:"action,omitempty"`
	SubscriptionID       string              `json:"subscription_id,omitempty"`
	TransactionID        string              `json:"transaction_id,omitempty"`
	CustomerID           string              `json:"customer_id,omitempty"`
	CurrencyCode         string              `json:"currency_code,omitempty"`
	CustomData           *CustomData         `json:"custom_data,omitempty"`
	Items                []PayloadItem       `json:"items,omitempty"`
	CurrentBillingPeriod *BillingPeriod      `json:"current_billing_period,omitempty"`
	BillingPeriod        *BillingPeriod      `json:"billing_period,omitempty"`
	NextBilledAt         *time.Time          `json:"next_billed_at,omitempty"`
	CanceledAt           *time.Time          `json:"canceled_at,omitempty"`
	BilledAt             *time.Time          `json:"billed_at,omitempty"`
	Details              *TransactionDetails `json:"details,omitempty"`
}

func (p *ProviderPayload) UserID() string {
	if p.CustomData == nil {
		return ""
	}
	return p.CustomData.UserID
}

func (p *ProviderPayload) PlanID() string {
	if p.CustomData == nil {
		return ""
	}
	return p.CustomData.PlanID
}

func (p *ProviderPayload) Email() string {
	if p.CustomData == nil {
		return ""
	}
	return p.CustomData.Email
}

// PriceID returns the first line item's price id.
func (p *ProviderPayload) PriceID() string {
	if len(p.Items) == 0 {
		return ""
	}
	it := p.Items[0]
	if it.Price != nil && it.Price.ID != "" {
		return it.Price.ID
	}
	return it.PriceID
}

// Period prefers the subscription's current period, then the transaction's.
func (p *ProviderPayload) Period() *BillingPeriod {
	if p.CurrentBillingPeriod != nil {
		return p.CurrentBillingPeriod
	}
	return p.BillingPeriod
}

// Amount returns the charged amount in minor units and its currency.
func (p *ProviderPayload) Amount() (int64, string) {
	cur := p.CurrencyCode
	if p.Details != nil && p.Details.Totals != nil {
		if p.Details.Totals.CurrencyCode != "" {
			cur = p.Details.Totals.CurrencyCode
		}
		return parseMinor(p.Details.Totals.Total), cur
	}
	if len(p.Items) > 0 && p.Items[0].Price != nil && p.Items[0].Price.UnitPrice != nil {
		up := p.Items[0].Price.UnitPrice
		if up.CurrencyCode != "" {
			cur = up.CurrencyCode
		}
		return parseMinor(up.Amount), cur
	}
	return 0, cur
}

func parseMinor(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int64(math.Round(f))
	}
	return n
}

type EventOutcome string

const (
	OutcomePending   EventOutcome = "pending"
	OutcomeApplied   EventOutcome = "applied"
	OutcomeStale     EventOutcome = "stale"
	OutcomeIgnored   EventOutcome = "ignored"
	OutcomeUnmatched EventOutcome = "unmatched"
)

// ProcessedEvent is the idempotency marker for one provider event.
type ProcessedEvent struct {
	ExternalEventID string
	Provider        string
	EventType       string
	OccurredAt      time.Time
	ProcessedAt     time.Time
	Outcome         EventOutcome
}
