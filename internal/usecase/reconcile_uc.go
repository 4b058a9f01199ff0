package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/logging"
	"novacv/internal/infra/metrics"
)

var _ ReconcileUseCase = (*reconcileUC)(nil)

const defaultSweepBatch = 500

type ReconcileResult struct {
	UserID      string            `json:"userId"`
	Repaired    bool              `json:"repaired"`
	Entitlement model.Entitlement `json:"subscription"`
}

type SweepReport struct {
	Expired  int `json:"expired"`
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
}

// ReconcileUseCase keeps stored projections honest against the clock and
// the ledger.
type ReconcileUseCase interface {
	SweepExpired(ctx context.Context) (int, error)
	ReconcileUser(ctx context.Context, userID string) (*ReconcileResult, error)
	ReconcileStale(ctx context.Context, batch int) (*SweepReport, error)
}

type reconcileUC struct {
	users  repository.UserRepository
	subs   repository.SubscriptionRepository
	tm     repository.TransactionManager
	plans  PlanCatalog
	cache  repository.EntitlementCache
	alerts adapter.AlertNotifier
	log    *zerolog.Logger
	now    Clock
	batch  int
}

func NewReconcileUseCase(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	tm repository.TransactionManager,
	plans PlanCatalog,
	cache repository.EntitlementCache,
	alerts adapter.AlertNotifier,
	logger *zerolog.Logger,
) *reconcileUC {
	l := logger.With().Str("component", "ReconcileUC").Logger()
	return &reconcileUC{
		users:  users,
		subs:   subs,
		tm:     tm,
		plans:  plans,
		cache:  cache,
		alerts: alerts,
		log:    &l,
		now:    systemClock,
		batch:  defaultSweepBatch,
	}
}

func (uc *reconcileUC) SetClock(c Clock) { uc.now = c }

// SweepExpired stores the expired status for active entitlements whose end
// date has passed. Reads already derive it; the sweep makes the stored row
// and the plan gauges agree.
func (uc *reconcileUC) SweepExpired(ctx context.Context) (int, error) {
	defer logging.TraceDuration(uc.log, "ReconcileUC.SweepExpired")()
	now := uc.now()
	total := 0
	for {
		ids, err := uc.users.ListExpiredActive(ctx, repository.NoTX, now, uc.batch)
		if err != nil {
			return total, err
		}
		flipped := 0
		for _, id := range ids {
			ok, err := uc.expireOne(ctx, id)
			if err != nil {
				uc.log.Error().Err(err).Str("user_id", id).Msg("expire failed")
				continue
			}
			if ok {
				flipped++
				invalidate(ctx, uc.cache, uc.log, id)
			}
		}
		total += flipped
		if len(ids) < uc.batch || flipped == 0 {
			break
		}
	}
	metrics.IncEntitlementsExpired(total)
	if counts, err := uc.users.CountByPlan(ctx, repository.NoTX); err == nil {
		metrics.SetEntitlementsByPlan(counts)
	} else {
		uc.log.Warn().Err(err).Msg("plan gauge refresh failed")
	}
	if total > 0 {
		uc.log.Info().Int("expired", total).Msg("expiry sweep finished")
	}
	return total, nil
}

func (uc *reconcileUC) expireOne(ctx context.Context, userID string) (bool, error) {
	var flipped bool
	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		u, err := uc.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := uc.now()
		if u.Entitlement.Status != model.StatusActive || u.Entitlement.EffectiveStatus(now) != model.StatusExpired {
			return nil
		}
		u.Entitlement.Status = model.StatusExpired
		u.UpdatedAt = now
		flipped = true
		return uc.users.Save(ctx, tx, u)
	})
	return flipped, err
}

// ReconcileUser recomputes the user's projection from the ledger and
// rewrites it when the stored one disagrees.
func (uc *reconcileUC) ReconcileUser(ctx context.Context, userID string) (*ReconcileResult, error) {
	defer logging.TraceDuration(uc.log, "ReconcileUC.ReconcileUser")()
	log := logging.With(logging.WithUserID(ctx, userID), uc.log)

	var (
		res    = &ReconcileResult{UserID: userID}
		before model.Entitlement
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		u, err := uc.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		recs, err := uc.subs.ListByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := uc.now()
		rel := model.SelectRelevant(recs, now)
		before = u.Entitlement
		if !u.Entitlement.Matches(model.Project(rel), now) {
			if err := projectOnto(u, rel, nil, false, uc.plans, now); err != nil {
				return err
			}
			res.Repaired = true
		}
		// saving also clears the stale marker
		u.UpdatedAt = now
		if err := uc.users.Save(ctx, tx, u); err != nil {
			return err
		}
		res.Entitlement = u.Entitlement
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConsistency) {
			alert(ctx, uc.alerts, log, adapter.Alert{
				Severity: adapter.SeverityCritical,
				Title:    "Reconciliation failed",
				Detail:   err.Error(),
				Fields:   map[string]string{"user_id": userID},
			})
		}
		return nil, err
	}
	if res.Repaired {
		metrics.IncConsistencyRepair()
		invalidate(ctx, uc.cache, log, userID)
		log.Warn().
			Str("stored_plan", string(before.Plan)).
			Str("stored_status", string(before.Status)).
			Str("plan", string(res.Entitlement.Plan)).
			Str("status", string(res.Entitlement.Status)).
			Msg("entitlement repaired from ledger")
		alert(ctx, uc.alerts, log, adapter.Alert{
			Severity: adapter.SeverityWarning,
			Title:    "Entitlement repaired",
			Detail:   fmt.Sprintf("%s/%s -> %s/%s", before.Plan, before.Status, res.Entitlement.Plan, res.Entitlement.Status),
			Fields:   map[string]string{"user_id": userID},
		})
	}
	return res, nil
}

func (uc *reconcileUC) ReconcileStale(ctx context.Context, batch int) (*SweepReport, error) {
	defer logging.TraceDuration(uc.log, "ReconcileUC.ReconcileStale")()
	if batch <= 0 {
		batch = uc.batch
	}
	ids, err := uc.subs.ListStaleUsers(ctx, repository.NoTX, batch)
	if err != nil {
		return nil, err
	}
	rep := &SweepReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := uc.ReconcileUser(ctx, id)
		if err != nil {
			uc.log.Error().Err(err).Str("user_id", id).Msg("reconcile failed")
			continue
		}
		rep.Checked++
		if res.Repaired {
			rep.Repaired++
		}
	}
	return rep, nil
}
