package model

import (
	"time"

	"novacv/internal/domain"
)

type EntitlementStatus string

const (
	StatusActive    EntitlementStatus = "active"
	StatusCancelled EntitlementStatus = "cancelled"
	StatusExpired   EntitlementStatus = "expired"
	StatusPastDue   EntitlementStatus = "past_due"
)

type UsageCounter struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// Entitlement is the user-facing projection of the ledger.
type Entitlement struct {
	Plan      PlanID                   `json:"plan"`
	Status    EntitlementStatus        `json:"status"`
	StartDate time.Time                `json:"startDate"`
	EndDate   *time.Time               `json:"endDate,omitempty"`
	AutoRenew bool                     `json:"autoRenew"`
	Usage     map[Feature]UsageCounter `json:"usage"`
}

// EffectiveStatus re-derives the status against EndDate. A stored active
// status whose end date has been reached reads as expired.
func (e Entitlement) EffectiveStatus(now time.Time) EntitlementStatus {
	if e.Status == StatusActive && e.EndDate != nil && !now.Before(*e.EndDate) {
		return StatusExpired
	}
	return e.Status
}

func (e Entitlement) IsEntitled(now time.Time) bool {
	return e.EffectiveStatus(now) == StatusActive
}

func (e Entitlement) Used(f Feature) int64 {
	return e.Usage[f].Used
}

// StartCycle begins a fresh active cycle on plan and resets usage.
func (e *Entitlement) StartCycle(plan *PlanDefinition, start time.Time, end *time.Time, autoRenew bool) {
	e.Plan = plan.ID
	e.Status = StatusActive
	e.StartDate = start
	e.EndDate = end
	e.AutoRenew = autoRenew
	e.Usage = plan.FreshUsage()
}

// Downgrade moves the user to the free plan with zeroed counters.
func (e *Entitlement) Downgrade(free *PlanDefinition, now time.Time) {
	e.StartCycle(free, now, nil, false)
}

func (e *Entitlement) Cancel() error {
	if e.Status != StatusActive {
		return domain.ErrNoSubscription
	}
	e.Status = StatusCancelled
	e.AutoRenew = false
	return nil
}

func (e *Entitlement) AddUsage(f Feature, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidArgument
	}
	if e.Usage == nil {
		e.Usage = make(map[Feature]UsageCounter)
	}
	c := e.Usage[f]
	c.Used += amount
	e.Usage[f] = c
	return nil
}

// Apply copies a projection onto the entitlement without touching usage.
func (e *Entitlement) Apply(p Projection) {
	e.Plan = p.Plan
	e.Status = p.Status
	if p.StartDate != nil {
		e.StartDate = *p.StartDate
	}
	e.EndDate = p.EndDate
	e.AutoRenew = p.AutoRenew
}

// Matches reports whether the stored entitlement agrees with p once expiry
// has been re-derived on both sides.
func (e Entitlement) Matches(p Projection, now time.Time) bool {
	if e.Plan != p.Plan || e.AutoRenew != p.AutoRenew {
		return false
	}
	projected := Entitlement{Status: p.Status, EndDate: p.EndDate}
	if e.EffectiveStatus(now) != projected.EffectiveStatus(now) {
		return false
	}
	switch {
	case e.EndDate == nil && p.EndDate == nil:
		return true
	case e.EndDate == nil || p.EndDate == nil:
		return false
	default:
		return e.EndDate.Equal(*p.EndDate)
	}
}

type User struct {
	ID          string
	Email       string
	Entitlement Entitlement
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewUser creates a registered user on the free plan.
func NewUser(id, email string, free *PlanDefinition, now time.Time) (*User, error) {
	if id == "" || free == nil || !free.IsFree() {
		return nil, domain.ErrInvalidArgument
	}
	u := &User{ID: id, Email: email, CreatedAt: now, UpdatedAt: now}
	u.Entitlement.StartCycle(free, now, nil, false)
	return u, nil
}
