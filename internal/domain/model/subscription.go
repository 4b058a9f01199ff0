package model

import (
	"strings"
	"time"
)

// RecordStatus mirrors the payment provider's subscription vocabulary.
type RecordStatus string

const (
	RecordActive    RecordStatus = "active"
	RecordTrialing  RecordStatus = "trialing"
	RecordPastDue   RecordStatus = "past_due"
	RecordPaused    RecordStatus = "paused"
	RecordCancelled RecordStatus = "cancelled"
	RecordDeleted   RecordStatus = "deleted"
)

// ParseRecordStatus normalizes provider spellings ("canceled") to ours.
func ParseRecordStatus(s string) RecordStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "completed", "paid":
		return RecordActive
	case "trialing":
		return RecordTrialing
	case "past_due":
		return RecordPastDue
	case "paused":
		return RecordPaused
	case "canceled", "cancelled":
		return RecordCancelled
	case "deleted":
		return RecordDeleted
	default:
		return RecordStatus(strings.ToLower(s))
	}
}

type BillingType string

const (
	BillingRecurring BillingType = "recurring"
	BillingOneTime   BillingType = "one_time"
)

// SubscriptionEvent is one entry of a record's append-only audit log.
type SubscriptionEvent struct {
	ID              string    `json:"id"`
	RecordID        string    `json:"recordId"`
	ExternalEventID string    `json:"externalEventId"`
	EventType       string    `json:"eventType"`
	RawPayload      []byte    `json:"-"`
	OccurredAt      time.Time `json:"occurredAt"`
	ProcessedAt     time.Time `json:"processedAt"`
	Applied         bool      `json:"applied"`
}

// SubscriptionRecord is one external subscription or one-time transaction.
type SubscriptionRecord struct {
	ID                     string              `json:"id"`
	UserID                 string              `json:"userId"`
	ExternalSubscriptionID string              `json:"externalSubscriptionId"`
	ExternalCustomerID     string              `json:"externalCustomerId,omitempty"`
	Plan                   PlanID              `json:"plan"`
	Status                 RecordStatus        `json:"status"`
	BillingType            BillingType         `json:"billingType"`
	CurrentPeriodStart     time.Time           `json:"currentPeriodStart"`
	CurrentPeriodEnd       *time.Time          `json:"currentPeriodEnd,omitempty"`
	NextBilledAt           *time.Time          `json:"nextBilledAt,omitempty"`
	CancelledAt            *time.Time          `json:"cancelledAt,omitempty"`
	RevokedAt              *time.Time          `json:"revokedAt,omitempty"`
	UnitPrice              int64               `json:"unitPrice"`
	Currency               string              `json:"currency"`
	LastEventAt            *time.Time          `json:"lastEventAt,omitempty"`
	CreatedAt              time.Time           `json:"createdAt"`
	UpdatedAt              time.Time           `json:"updatedAt"`
	Events                 []SubscriptionEvent `json:"events,omitempty"`
}

// IsEntitling reports whether the record grants its plan.
func (r *SubscriptionRecord) IsEntitling() bool {
	if r == nil || r.RevokedAt != nil {
		return false
	}
	return r.Status == RecordActive || r.Status == RecordTrialing
}

// Accepts reports whether an event that occurred at t may change state.
// Events older than the last applied one are audit-only.
func (r *SubscriptionRecord) Accepts(t time.Time) bool {
	return r.LastEventAt == nil || !t.Before(*r.LastEventAt)
}

func (r *SubscriptionRecord) Touch(occurredAt, now time.Time) {
	if r.LastEventAt == nil || occurredAt.After(*r.LastEventAt) {
		t := occurredAt
		r.LastEventAt = &t
	}
	r.UpdatedAt = now
}

func (r *SubscriptionRecord) MarkCancelled(at time.Time) {
	r.Status = RecordCancelled
	if r.CancelledAt == nil {
		r.CancelledAt = &at
	}
	r.NextBilledAt = nil
}

// Revoke cancels the record and withdraws the entitlement it granted
// (refunds, chargebacks, failed payments).
func (r *SubscriptionRecord) Revoke(at time.Time) {
	r.MarkCancelled(at)
	if r.RevokedAt == nil {
		r.RevokedAt = &at
	}
}

func (r *SubscriptionRecord) entitlesAt(now time.Time) bool {
	return r.IsEntitling() && (r.CurrentPeriodEnd == nil || now.Before(*r.CurrentPeriodEnd))
}

// ActiveRecurring returns the newest recurring record still entitling at now.
// records must be ordered newest first.
func ActiveRecurring(records []*SubscriptionRecord, now time.Time) *SubscriptionRecord {
	for _, r := range records {
		if r.BillingType == BillingRecurring && r.entitlesAt(now) {
			return r
		}
	}
	return nil
}

// SelectRelevant picks the record the user projection derives from: an
// entitling recurring record, then the newest record still entitling at now,
// otherwise the newest record. records must be ordered newest first.
func SelectRelevant(records []*SubscriptionRecord, now time.Time) *SubscriptionRecord {
	if r := ActiveRecurring(records, now); r != nil {
		return r
	}
	for _, r := range records {
		if r.entitlesAt(now) {
			return r
		}
	}
	if len(records) > 0 {
		return records[0]
	}
	return nil
}

// Projection is the entitlement state implied by a ledger record.
type Projection struct {
	Plan      PlanID
	Status    EntitlementStatus
	StartDate *time.Time
	EndDate   *time.Time
	AutoRenew bool
	Revoked   bool
}

// Project derives the user-facing entitlement from the relevant record.
// Provider statuses collapse to active (active, trialing) or cancelled.
func Project(rec *SubscriptionRecord) Projection {
	if rec == nil {
		return Projection{Plan: PlanFree, Status: StatusActive}
	}
	if rec.RevokedAt != nil {
		start := *rec.RevokedAt
		return Projection{Plan: PlanFree, Status: StatusActive, StartDate: &start, Revoked: true}
	}
	start := rec.CurrentPeriodStart
	p := Projection{Plan: rec.Plan, StartDate: &start, EndDate: rec.CurrentPeriodEnd}
	if rec.IsEntitling() {
		p.Status = StatusActive
		p.AutoRenew = rec.BillingType == BillingRecurring && rec.CancelledAt == nil
	} else {
		p.Status = StatusCancelled
	}
	return p
}
