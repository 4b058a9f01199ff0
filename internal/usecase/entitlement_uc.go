package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/domain/gate"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/logging"
	"novacv/internal/infra/metrics"
)

var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementView is a user's entitlement with its status re-derived at read
// time, plus the ledger record it was projected from.
type EntitlementView struct {
	UserID       string                    `json:"userId"`
	Entitlement  model.Entitlement         `json:"subscription"`
	Subscription *model.SubscriptionRecord `json:"record,omitempty"`
}

type FeaturesView struct {
	Plan     model.PlanID                    `json:"plan"`
	Status   model.EntitlementStatus         `json:"status"`
	Features map[model.Feature]gate.Decision `json:"features"`
}

type EntitlementUseCase interface {
	Get(ctx context.Context, userID string) (*EntitlementView, error)
	Features(ctx context.Context, userID string) (*FeaturesView, error)
	CanUse(ctx context.Context, userID string, feature model.Feature) (gate.Decision, error)
	// IncrementUsage records amount units of a countable feature. It must be
	// called once per successful use and fails without writing when the
	// entitlement does not cover the amount.
	IncrementUsage(ctx context.Context, userID string, feature model.Feature, amount int64) (gate.Decision, error)
	// Cancel stops renewal at the provider, then cancels the ledger record
	// and the entitlement together.
	Cancel(ctx context.Context, userID string) (*EntitlementView, error)
}

type entitlementUC struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	tm       repository.TransactionManager
	plans    PlanCatalog
	provider adapter.PaymentProvider
	cache    repository.EntitlementCache
	log      *zerolog.Logger
	now      Clock
}

func NewEntitlementUseCase(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	tm repository.TransactionManager,
	plans PlanCatalog,
	provider adapter.PaymentProvider,
	cache repository.EntitlementCache,
	logger *zerolog.Logger,
) *entitlementUC {
	l := logger.With().Str("component", "EntitlementUC").Logger()
	return &entitlementUC{
		users:    users,
		subs:     subs,
		tm:       tm,
		plans:    plans,
		provider: provider,
		cache:    cache,
		log:      &l,
		now:      systemClock,
	}
}

// SetClock replaces the time source.
func (uc *entitlementUC) SetClock(c Clock) { uc.now = c }

func (uc *entitlementUC) planFor(ent model.Entitlement) (*model.PlanDefinition, error) {
	plan, err := uc.plans.Get(ent.Plan)
	if err != nil {
		return nil, fmt.Errorf("%w: entitlement references plan %q", domain.ErrConsistency, ent.Plan)
	}
	return plan, nil
}

func (uc *entitlementUC) Get(ctx context.Context, userID string) (*EntitlementView, error) {
	defer logging.TraceDuration(uc.log, "EntitlementUC.Get")()
	u, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	recs, err := uc.subs.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	ent := u.Entitlement
	ent.Status = ent.EffectiveStatus(now)
	return &EntitlementView{UserID: u.ID, Entitlement: ent, Subscription: model.SelectRelevant(recs, now)}, nil
}

func (uc *entitlementUC) Features(ctx context.Context, userID string) (*FeaturesView, error) {
	defer logging.TraceDuration(uc.log, "EntitlementUC.Features")()
	u, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	plan, err := uc.planFor(u.Entitlement)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	return &FeaturesView{
		Plan:     u.Entitlement.Plan,
		Status:   u.Entitlement.EffectiveStatus(now),
		Features: gate.Evaluate(u.Entitlement, plan, now),
	}, nil
}

func (uc *entitlementUC) CanUse(ctx context.Context, userID string, feature model.Feature) (gate.Decision, error) {
	u, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return gate.Decision{}, err
	}
	plan, err := uc.planFor(u.Entitlement)
	if err != nil {
		return gate.Decision{}, err
	}
	d := gate.CanUse(u.Entitlement, plan, feature, uc.now())
	metrics.IncGateDecision(string(feature), string(d.Reason))
	return d, nil
}

func deniedError(d gate.Decision) error {
	if d.Reason == gate.ReasonLimitReached {
		return domain.ErrUsageLimitReached
	}
	return domain.ErrFeatureUnavailable
}

func (uc *entitlementUC) IncrementUsage(ctx context.Context, userID string, feature model.Feature, amount int64) (gate.Decision, error) {
	defer logging.TraceDuration(uc.log, "EntitlementUC.IncrementUsage")()
	if kind, ok := model.GatedFeatures[feature]; !ok || kind != model.KindLimit {
		return gate.Decision{}, fmt.Errorf("%w: %q is not a countable feature", domain.ErrInvalidArgument, feature)
	}
	if amount <= 0 {
		return gate.Decision{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}

	var (
		after model.Entitlement
		plan  *model.PlanDefinition
		now   = uc.now()
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		u, err := uc.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		plan, err = uc.planFor(u.Entitlement)
		if err != nil {
			return err
		}
		d := gate.CanConsume(u.Entitlement, plan, feature, amount, now)
		metrics.IncGateDecision(string(feature), string(d.Reason))
		if !d.Allowed {
			return deniedError(d)
		}
		if err := u.Entitlement.AddUsage(feature, amount); err != nil {
			return err
		}
		u.UpdatedAt = now
		if err := uc.users.Save(ctx, tx, u); err != nil {
			return err
		}
		after = u.Entitlement
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrForbidden) {
			uc.log.Error().Err(err).Str("user_id", userID).Str("feature", string(feature)).Msg("usage increment failed")
		}
		return gate.Decision{}, err
	}
	invalidate(ctx, uc.cache, uc.log, userID)
	metrics.AddUsage(string(feature), string(after.Plan), amount)
	return gate.CanUse(after, plan, feature, now), nil
}

func (uc *entitlementUC) Cancel(ctx context.Context, userID string) (*EntitlementView, error) {
	defer logging.TraceDuration(uc.log, "EntitlementUC.Cancel")()
	now := uc.now()
	log := logging.With(logging.WithUserID(ctx, userID), uc.log)

	u, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if u.Entitlement.Plan == model.PlanFree || u.Entitlement.EffectiveStatus(now) != model.StatusActive {
		return nil, domain.ErrNoSubscription
	}
	recs, err := uc.subs.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	// A live subscription is what the provider keeps billing, so it is the
	// one to cancel even when a newer one-time record exists.
	rel := model.ActiveRecurring(recs, now)
	if rel == nil {
		rel = model.SelectRelevant(recs, now)
	}
	if rel != nil && !rel.IsEntitling() {
		rel = nil
	}

	// The provider is told first; if it refuses, nothing local changes.
	if rel != nil && rel.BillingType == model.BillingRecurring {
		if err := uc.provider.CancelSubscription(ctx, rel.ExternalSubscriptionID); err != nil {
			metrics.IncCancellation("upstream_error")
			log.Error().Err(err).Str("subscription", rel.ExternalSubscriptionID).Msg("provider cancel failed")
			return nil, fmt.Errorf("%w: cancel subscription: %v", domain.ErrUpstream, err)
		}
	}

	var view *EntitlementView
	err = uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		u, err := uc.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		var rec *model.SubscriptionRecord
		if rel != nil {
			rec, err = uc.subs.FindByID(ctx, tx, rel.ID)
			if err != nil {
				return err
			}
			if rec.IsEntitling() {
				rec.MarkCancelled(now)
				rec.UpdatedAt = now
				if err := uc.subs.Save(ctx, tx, rec); err != nil {
					return err
				}
			}
			recs, err := uc.subs.ListByUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			if err := projectOnto(u, model.SelectRelevant(recs, now), rec, false, uc.plans, now); err != nil {
				return err
			}
		} else if err := u.Entitlement.Cancel(); err != nil {
			return err
		}
		u.UpdatedAt = now
		if err := uc.users.Save(ctx, tx, u); err != nil {
			return err
		}
		ent := u.Entitlement
		ent.Status = ent.EffectiveStatus(now)
		view = &EntitlementView{UserID: u.ID, Entitlement: ent, Subscription: rec}
		return nil
	})
	if err != nil {
		metrics.IncCancellation("error")
		log.Error().Err(err).Msg("cancel failed")
		return nil, err
	}
	invalidate(ctx, uc.cache, log, userID)
	metrics.IncCancellation("ok")
	log.Info().Msg("subscription cancelled")
	return view, nil
}
