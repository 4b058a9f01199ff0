package usecase

import (
	"context"
	"errors"
	"time"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// PlanCatalog is the read side of the plan catalog.
type PlanCatalog interface {
	Get(id model.PlanID) (*model.PlanDefinition, error)
	ByPriceID(priceID string) (*model.PlanDefinition, error)
	Free() *model.PlanDefinition
	List() []*model.PlanDefinition
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// invalidate drops the cached entitlement after a commit. A failure leaves a
// stale entry until its TTL runs out, so it is logged and not returned.
func invalidate(ctx context.Context, cache repository.EntitlementCache, log *zerolog.Logger, userID string) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache invalidation failed")
	}
}

func alert(ctx context.Context, n adapter.AlertNotifier, log *zerolog.Logger, a adapter.Alert) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, a); err != nil {
		metrics.IncAlert(string(a.Severity), "error")
		log.Warn().Err(err).Str("title", a.Title).Msg("alert dispatch failed")
		return
	}
	metrics.IncAlert(string(a.Severity), "queued")
}

// loadOrCreateUser reads the user inside tx, creating a free one when the id
// is unknown. created reports whether a row will be inserted.
func loadOrCreateUser(ctx context.Context, tx repository.Tx, users repository.UserRepository, plans PlanCatalog, id, email string, now time.Time) (u *model.User, created bool, err error) {
	u, err = users.FindByID(ctx, tx, id)
	switch {
	case err == nil:
		if u.Email == "" && email != "" {
			u.Email = email
		}
		return u, false, nil
	case errors.Is(err, domain.ErrNotFound):
		u, err = model.NewUser(id, email, plans.Free(), now)
		return u, true, err
	default:
		return nil, false, err
	}
}
