// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/logging"
	"novacv/internal/infra/metrics"
	red "novacv/internal/infra/redis"
)

var _ WebhookUseCase = (*webhookUC)(nil)

type ProcessStatus string

const (
	ProcessProcessed ProcessStatus = "processed"
	ProcessDuplicate ProcessStatus = "duplicate"
	ProcessIgnored   ProcessStatus = "ignored"
)

type ProcessResult struct {
	Status   ProcessStatus
	Outcome  model.EventOutcome
	UserID   string
	RecordID string
}

// WebhookUseCase applies verified provider events to the ledger and the
// user projection, exactly once per provider event id.
type WebhookUseCase interface {
	Process(ctx context.Context, env *model.WebhookEnvelope) (*ProcessResult, error)
}

type webhookUC struct {
	users     repository.UserRepository
	subs      repository.SubscriptionRepository
	processed repository.ProcessedEventRepository
	tm        repository.TransactionManager
	plans     PlanCatalog
	log       *zerolog.Logger

	cache   repository.EntitlementCache
	locker  adapter.Locker
	lockTTL time.Duration
	alerts  adapter.AlertNotifier
	now     Clock
}

type WebhookOption func(*webhookUC)

// WithEventLock guards each provider event id with a short distributed lock
// so concurrent redeliveries of one event are turned away early.
func WithEventLock(l adapter.Locker, ttl time.Duration) WebhookOption {
	return func(uc *webhookUC) { uc.locker, uc.lockTTL = l, ttl }
}

func WithWebhookCache(c repository.EntitlementCache) WebhookOption {
	return func(uc *webhookUC) { uc.cache = c }
}

func WithWebhookAlerts(n adapter.AlertNotifier) WebhookOption {
	return func(uc *webhookUC) { uc.alerts = n }
}

func WithWebhookClock(c Clock) WebhookOption {
	return func(uc *webhookUC) { uc.now = c }
}

func NewWebhookUseCase(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	processed repository.ProcessedEventRepository,
	tm repository.TransactionManager,
	plans PlanCatalog,
	logger *zerolog.Logger,
	opts ...WebhookOption,
) *webhookUC {
	l := logger.With().Str("component", "WebhookUC").Logger()
	uc := &webhookUC{
		users:     users,
		subs:      subs,
		processed: processed,
		tm:        tm,
		plans:     plans,
		log:       &l,
		lockTTL:   30 * time.Second,
		now:       systemClock,
	}
	for _, o := range opts {
		o(uc)
	}
	return uc
}

func isKnownEvent(t string) bool {
	switch t {
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated, model.EventSubscriptionCanceled,
		model.EventTransactionCompleted, model.EventTransactionFailed, model.EventAdjustmentCreated:
		return true
	}
	return false
}

func isRevokingAdjustment(action string) bool {
	return action == "refund" || action == "chargeback"
}

// recordKeys lists the external ids that may identify the ledger record an
// event belongs to, most specific first.
func recordKeys(eventType string, p *model.ProviderPayload) []string {
	var keys []string
	add := func(k string) {
		if k != "" {
			keys = append(keys, k)
		}
	}
	switch eventType {
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated, model.EventSubscriptionCanceled:
		add(p.ID)
	case model.EventTransactionCompleted, model.EventTransactionFailed:
		add(p.SubscriptionID)
		add(p.ID)
	case model.EventAdjustmentCreated:
		add(p.SubscriptionID)
		add(p.TransactionID)
	}
	return keys
}

func (uc *webhookUC) findRecord(ctx context.Context, tx repository.Tx, keys []string) (*model.SubscriptionRecord, error) {
	for _, k := range keys {
		rec, err := uc.subs.FindByExternalID(ctx, tx, k)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (uc *webhookUC) Process(ctx context.Context, env *model.WebhookEnvelope) (*ProcessResult, error) {
	defer logging.TraceDuration(uc.log, "WebhookUC.Process")()
	if env == nil || env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: event id and type are required", domain.ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { metrics.ObserveWebhook(env.EventType, time.Since(start)) }()
	ctx = logging.WithEventID(ctx, env.EventID)
	log := logging.With(ctx, uc.log).With().Str("event_type", env.EventType).Logger()

	if !isKnownEvent(env.EventType) {
		log.Info().Msg("unhandled webhook event type acknowledged")
		metrics.IncWebhook(env.Provider, env.EventType, string(model.OutcomeIgnored))
		return &ProcessResult{Status: ProcessIgnored, Outcome: model.OutcomeIgnored}, nil
	}

	var p model.ProviderPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		metrics.IncWebhook(env.Provider, env.EventType, "invalid")
		return nil, fmt.Errorf("%w: decode event data: %v", domain.ErrInvalidArgument, err)
	}
	if env.EventType == model.EventAdjustmentCreated && !isRevokingAdjustment(p.Action) {
		log.Info().Str("action", p.Action).Msg("adjustment without entitlement effect acknowledged")
		metrics.IncWebhook(env.Provider, env.EventType, string(model.OutcomeIgnored))
		return &ProcessResult{Status: ProcessIgnored, Outcome: model.OutcomeIgnored}, nil
	}

	occurredAt := env.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = uc.now()
	}
	keys := recordKeys(env.EventType, &p)

	userID, err := uc.resolveUser(ctx, keys, &p)
	if err != nil {
		metrics.IncWebhook(env.Provider, env.EventType, "error")
		return nil, err
	}
	if userID == "" {
		// Failures and refunds for purchases we never recorded change nothing.
		if env.EventType == model.EventTransactionFailed || env.EventType == model.EventAdjustmentCreated {
			return uc.recordUnmatched(ctx, env, occurredAt, log)
		}
		metrics.IncWebhook(env.Provider, env.EventType, "invalid")
		return nil, fmt.Errorf("%w: event carries no user id", domain.ErrInvalidArgument)
	}
	ctx = logging.WithUserID(ctx, userID)

	if uc.locker != nil {
		key := red.WebhookLockKey(env.Provider, env.EventID)
		token, err := uc.locker.TryLock(ctx, key, uc.lockTTL)
		switch {
		case err == nil:
			defer func() {
				if err := uc.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("webhook lock release failed")
				}
			}()
		case errors.Is(err, domain.ErrAlreadyExists):
			metrics.IncWebhook(env.Provider, env.EventType, "in_flight")
			return nil, domain.ErrEventInFlight
		default:
			// The processed-events table still deduplicates without the lock.
			log.Warn().Err(err).Msg("webhook lock unavailable, continuing")
		}
	}

	var (
		res        = &ProcessResult{UserID: userID}
		duplicate  bool
		registered bool
		supersedes string
	)
	now := uc.now()
	err = uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		fresh, err := uc.processed.MarkProcessed(ctx, tx, &model.ProcessedEvent{
			ExternalEventID: env.EventID,
			Provider:        env.Provider,
			EventType:       env.EventType,
			OccurredAt:      occurredAt,
			ProcessedAt:     now,
			Outcome:         model.OutcomePending,
		})
		if err != nil {
			return err
		}
		if !fresh {
			duplicate = true
			return nil
		}

		user, created, err := loadOrCreateUser(ctx, tx, uc.users, uc.plans, userID, p.Email(), now)
		if err != nil {
			return err
		}
		registered = created

		t := &transition{env: env, p: &p, keys: keys, occurredAt: occurredAt, now: now, user: user, newUser: created}
		if err := uc.apply(ctx, tx, t); err != nil {
			return err
		}
		res.Outcome = t.outcome
		if t.rec != nil {
			res.RecordID = t.rec.ID
		}
		if t.superseded {
			supersedes = t.active.ExternalSubscriptionID
		}
		return uc.processed.SetOutcome(ctx, tx, env.EventID, t.outcome)
	})
	if err != nil {
		metrics.IncWebhook(env.Provider, env.EventType, "error")
		log.Error().Err(err).Msg("webhook processing failed")
		if errors.Is(err, domain.ErrConsistency) {
			alert(ctx, uc.alerts, &log, adapter.Alert{
				Severity: adapter.SeverityCritical,
				Title:    "webhook left ledger inconsistent",
				Detail:   err.Error(),
				Fields:   map[string]string{"event_id": env.EventID, "user_id": userID},
			})
		}
		return nil, err
	}

	if duplicate {
		log.Info().Msg("duplicate webhook event acknowledged")
		metrics.IncWebhook(env.Provider, env.EventType, "duplicate")
		return &ProcessResult{Status: ProcessDuplicate, UserID: userID}, nil
	}
	if supersedes != "" {
		log.Warn().Str("subscription_id", supersedes).Msg("one-time purchase completed during an active subscription")
		alert(ctx, uc.alerts, &log, adapter.Alert{
			Severity: adapter.SeverityWarning,
			Title:    "one-time purchase needs refund",
			Detail:   "a one-time purchase completed while a subscription was active; the subscription keeps the entitlement",
			Fields: map[string]string{
				"event_id":        env.EventID,
				"user_id":         userID,
				"transaction_id":  p.ID,
				"subscription_id": supersedes,
				"record_id":       res.RecordID,
			},
		})
	}
	invalidate(ctx, uc.cache, &log, userID)
	if registered {
		metrics.IncUsersRegistered()
	}
	metrics.IncWebhook(env.Provider, env.EventType, string(res.Outcome))
	log.Info().Str("outcome", string(res.Outcome)).Str("record_id", res.RecordID).Msg("webhook event processed")
	res.Status = ProcessProcessed
	return res, nil
}

// resolveUser prefers the owner of an existing ledger record over the
// custom data echoed back by the provider.
func (uc *webhookUC) resolveUser(ctx context.Context, keys []string, p *model.ProviderPayload) (string, error) {
	rec, err := uc.findRecord(ctx, repository.NoTX, keys)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.UserID, nil
	}
	return p.UserID(), nil
}

func (uc *webhookUC) recordUnmatched(ctx context.Context, env *model.WebhookEnvelope, occurredAt time.Time, log zerolog.Logger) (*ProcessResult, error) {
	fresh, err := uc.processed.MarkProcessed(ctx, repository.NoTX, &model.ProcessedEvent{
		ExternalEventID: env.EventID,
		Provider:        env.Provider,
		EventType:       env.EventType,
		OccurredAt:      occurredAt,
		ProcessedAt:     uc.now(),
		Outcome:         model.OutcomeUnmatched,
	})
	if err != nil {
		metrics.IncWebhook(env.Provider, env.EventType, "error")
		return nil, err
	}
	if !fresh {
		metrics.IncWebhook(env.Provider, env.EventType, "duplicate")
		return &ProcessResult{Status: ProcessDuplicate}, nil
	}
	log.Warn().Msg("webhook event matches no ledger record")
	metrics.IncWebhook(env.Provider, env.EventType, string(model.OutcomeUnmatched))
	return &ProcessResult{Status: ProcessProcessed, Outcome: model.OutcomeUnmatched}, nil
}

// transition carries one event through apply.
type transition struct {
	env        *model.WebhookEnvelope
	p          *model.ProviderPayload
	keys       []string
	occurredAt time.Time
	now        time.Time
	user       *model.User
	newUser    bool

	rec      *model.SubscriptionRecord
	newCycle bool
	outcome  model.EventOutcome

	// active is the user's live subscription when a one-time purchase
	// completes on top of it; the purchase is then kept for audit only.
	active     *model.SubscriptionRecord
	superseded bool
}

func (uc *webhookUC) apply(ctx context.Context, tx repository.Tx, t *transition) error {
	rec, err := uc.findRecord(ctx, tx, t.keys)
	if err != nil {
		return err
	}
	t.rec = rec

	switch t.env.EventType {
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated, model.EventSubscriptionCanceled:
		err = uc.applySubscription(t)
	case model.EventTransactionCompleted:
		if rec == nil && t.p.SubscriptionID == "" {
			var recs []*model.SubscriptionRecord
			if recs, err = uc.subs.ListByUser(ctx, tx, t.user.ID); err != nil {
				return err
			}
			t.active = model.ActiveRecurring(recs, t.now)
		}
		err = uc.applyTransaction(t)
	case model.EventTransactionFailed, model.EventAdjustmentCreated:
		uc.applyRevocation(t)
	}
	if err != nil {
		return err
	}

	if t.rec == nil {
		t.outcome = model.OutcomeUnmatched
		if t.newUser {
			return uc.users.Save(ctx, tx, t.user)
		}
		return nil
	}

	applied := t.outcome == model.OutcomeApplied
	if applied || t.superseded {
		t.rec.Touch(t.occurredAt, t.now)
		if err := uc.subs.Save(ctx, tx, t.rec); err != nil {
			return err
		}
	}
	if err := uc.subs.AppendEvent(ctx, tx, &model.SubscriptionEvent{
		ID:              ulid.Make().String(),
		RecordID:        t.rec.ID,
		ExternalEventID: t.env.EventID,
		EventType:       t.env.EventType,
		RawPayload:      rawPayload(t.env),
		OccurredAt:      t.occurredAt,
		ProcessedAt:     t.now,
		Applied:         applied,
	}); err != nil {
		return err
	}
	if !applied {
		if t.newUser {
			return uc.users.Save(ctx, tx, t.user)
		}
		return nil
	}
	return uc.project(ctx, tx, t)
}

func rawPayload(env *model.WebhookEnvelope) []byte {
	if len(env.Raw) > 0 {
		return env.Raw
	}
	return env.Data
}

// resolvePlan picks the paid plan an event refers to: custom data first, then
// the line item's provider price id.
func (uc *webhookUC) resolvePlan(p *model.ProviderPayload) (*model.PlanDefinition, error) {
	var (
		plan *model.PlanDefinition
		err  error
	)
	switch {
	case p.PlanID() != "":
		plan, err = uc.plans.Get(model.PlanID(p.PlanID()))
	case p.PriceID() != "":
		plan, err = uc.plans.ByPriceID(p.PriceID())
	default:
		return nil, fmt.Errorf("%w: event names no plan", domain.ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if plan.IsFree() {
		return nil, fmt.Errorf("%w: free plan cannot be purchased", domain.ErrInvalidArgument)
	}
	return plan, nil
}

func (uc *webhookUC) newRecord(t *transition, externalID string, plan *model.PlanDefinition, billing model.BillingType) *model.SubscriptionRecord {
	amount, currency := t.p.Amount()
	if currency == "" {
		currency = plan.Currency
	}
	if amount == 0 {
		amount = plan.PriceCents
	}
	return &model.SubscriptionRecord{
		ID:                     ulid.Make().String(),
		UserID:                 t.user.ID,
		ExternalSubscriptionID: externalID,
		ExternalCustomerID:     t.p.CustomerID,
		Plan:                   plan.ID,
		Status:                 model.RecordActive,
		BillingType:            billing,
		CurrentPeriodStart:     t.now,
		UnitPrice:              amount,
		Currency:               currency,
		CreatedAt:              t.now,
		UpdatedAt:              t.now,
	}
}

func (uc *webhookUC) applySubscription(t *transition) error {
	p := t.p
	if t.rec == nil {
		plan, err := uc.resolvePlan(p)
		if err != nil {
			return err
		}
		t.rec = uc.newRecord(t, p.ID, plan, model.BillingRecurring)
		t.newCycle = true
	} else if !t.rec.Accepts(t.occurredAt) {
		t.outcome = model.OutcomeStale
		return nil
	}
	rec := t.rec

	if p.PlanID() != "" || p.PriceID() != "" {
		if plan, err := uc.resolvePlan(p); err == nil && plan.ID != rec.Plan {
			rec.Plan = plan.ID
			t.newCycle = true
		}
	}
	if period := p.Period(); period != nil {
		if !period.StartsAt.Equal(rec.CurrentPeriodStart) {
			t.newCycle = true
		}
		rec.CurrentPeriodStart = period.StartsAt
		end := period.EndsAt
		rec.CurrentPeriodEnd = &end
	} else if rec.CurrentPeriodEnd == nil {
		plan, err := uc.plans.Get(rec.Plan)
		if err != nil {
			return fmt.Errorf("%w: record %s: %v", domain.ErrConsistency, rec.ID, err)
		}
		end := plan.PeriodEnd(rec.CurrentPeriodStart)
		rec.CurrentPeriodEnd = &end
	}
	if p.CustomerID != "" {
		rec.ExternalCustomerID = p.CustomerID
	}
	if amount, currency := p.Amount(); amount > 0 {
		rec.UnitPrice, rec.Currency = amount, currency
	}
	rec.NextBilledAt = p.NextBilledAt

	status := model.ParseRecordStatus(p.Status)
	if t.env.EventType == model.EventSubscriptionCanceled {
		status = model.RecordCancelled
	}
	terminal := rec.Status == model.RecordCancelled || rec.Status == model.RecordDeleted
	switch {
	case status == model.RecordCancelled || status == model.RecordDeleted:
		at := t.occurredAt
		if p.CanceledAt != nil {
			at = *p.CanceledAt
		}
		rec.MarkCancelled(at)
		rec.Status = status
		t.newCycle = false
	case terminal:
		// A cancelled record never reactivates; a new purchase makes a new record.
		t.newCycle = false
	case status != "":
		rec.Status = status
	}
	t.outcome = model.OutcomeApplied
	return nil
}

func (uc *webhookUC) applyTransaction(t *transition) error {
	p := t.p
	if t.rec != nil {
		if !t.rec.Accepts(t.occurredAt) {
			t.outcome = model.OutcomeStale
			return nil
		}
		if t.rec.BillingType == model.BillingOneTime {
			// A second completion for the same one-time purchase grants nothing new.
			t.outcome = model.OutcomeStale
			return nil
		}
		// Renewal of a recurring subscription.
		rec := t.rec
		terminal := rec.Status == model.RecordCancelled || rec.Status == model.RecordDeleted
		if period := p.Period(); period != nil {
			if !terminal && !period.StartsAt.Equal(rec.CurrentPeriodStart) {
				t.newCycle = true
			}
			rec.CurrentPeriodStart = period.StartsAt
			end := period.EndsAt
			rec.CurrentPeriodEnd = &end
		}
		if !terminal {
			rec.Status = model.RecordActive
		}
		if amount, currency := p.Amount(); amount > 0 {
			rec.UnitPrice, rec.Currency = amount, currency
			metrics.AddPaymentRevenue(currency, amount)
		}
		t.outcome = model.OutcomeApplied
		return nil
	}

	plan, err := uc.resolvePlan(p)
	if err != nil {
		return err
	}
	if p.SubscriptionID != "" {
		// First payment of a subscription whose created event has not arrived yet.
		t.rec = uc.newRecord(t, p.SubscriptionID, plan, model.BillingRecurring)
		if period := p.Period(); period != nil {
			t.rec.CurrentPeriodStart = period.StartsAt
			end := period.EndsAt
			t.rec.CurrentPeriodEnd = &end
		} else {
			end := plan.PeriodEnd(t.now)
			t.rec.CurrentPeriodEnd = &end
		}
	} else {
		t.rec = uc.newRecord(t, p.ID, plan, model.BillingOneTime)
		end := plan.PeriodEnd(t.now)
		t.rec.CurrentPeriodEnd = &end
	}
	metrics.AddPaymentRevenue(t.rec.Currency, t.rec.UnitPrice)
	if t.active != nil {
		// The live subscription keeps governing; the purchase needs a refund.
		t.rec.MarkCancelled(t.now)
		t.superseded = true
		t.outcome = model.OutcomeIgnored
		return nil
	}
	t.newCycle = true
	t.outcome = model.OutcomeApplied
	return nil
}

func (uc *webhookUC) applyRevocation(t *transition) {
	if t.rec == nil {
		return
	}
	if !t.rec.Accepts(t.occurredAt) {
		t.outcome = model.OutcomeStale
		return
	}
	t.rec.Revoke(t.occurredAt)
	t.outcome = model.OutcomeApplied
}

// project rewrites the user's entitlement from the ledger in the same
// transaction as the ledger write.
func (uc *webhookUC) project(ctx context.Context, tx repository.Tx, t *transition) error {
	recs, err := uc.subs.ListByUser(ctx, tx, t.user.ID)
	if err != nil {
		return err
	}
	rel := model.SelectRelevant(recs, t.now)
	if err := projectOnto(t.user, rel, t.rec, t.newCycle, uc.plans, t.now); err != nil {
		return err
	}
	t.user.UpdatedAt = t.now
	return uc.users.Save(ctx, tx, t.user)
}

// projectOnto applies the ledger projection to u. changed is the record the
// caller just wrote; newCycle asks for a usage reset when changed is the
// relevant record.
func projectOnto(u *model.User, rel, changed *model.SubscriptionRecord, newCycle bool, plans PlanCatalog, now time.Time) error {
	proj := model.Project(rel)
	ent := &u.Entitlement
	if proj.Plan == model.PlanFree {
		if ent.Plan != model.PlanFree || ent.Status != model.StatusActive {
			start := now
			if proj.StartDate != nil {
				start = *proj.StartDate
			}
			ent.Downgrade(plans.Free(), start)
		}
		return nil
	}

	plan, err := plans.Get(proj.Plan)
	if err != nil {
		return fmt.Errorf("%w: record %s references plan %s", domain.ErrConsistency, rel.ID, proj.Plan)
	}
	startsCycle := proj.Status == model.StatusActive &&
		((newCycle && changed != nil && rel.ID == changed.ID) || ent.Plan != proj.Plan)
	if startsCycle {
		ent.StartCycle(plan, *proj.StartDate, proj.EndDate, proj.AutoRenew)
		return nil
	}
	ent.Apply(proj)
	return nil
}
