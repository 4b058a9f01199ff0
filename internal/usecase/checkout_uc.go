package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/logging"
	"novacv/internal/infra/metrics"
	red "novacv/internal/infra/redis"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutResult struct {
	CheckoutURL   string `json:"checkoutUrl"`
	TransactionID string `json:"transactionId"`
}

type CheckoutUseCase interface {
	// Checkout opens a provider checkout for planID on behalf of userID.
	Checkout(ctx context.Context, userID, email string, planID model.PlanID) (*CheckoutResult, error)
}

type CheckoutLimits struct {
	Limit  int
	Window time.Duration
}

type checkoutUC struct {
	users      repository.UserRepository
	plans      PlanCatalog
	provider   adapter.PaymentProvider
	limiter    adapter.RateLimiter
	limits     CheckoutLimits
	successURL string
	log        *zerolog.Logger
	now        Clock
}

func NewCheckoutUseCase(
	users repository.UserRepository,
	plans PlanCatalog,
	provider adapter.PaymentProvider,
	limiter adapter.RateLimiter,
	limits CheckoutLimits,
	successURL string,
	logger *zerolog.Logger,
) *checkoutUC {
	l := logger.With().Str("component", "CheckoutUC").Logger()
	return &checkoutUC{
		users:      users,
		plans:      plans,
		provider:   provider,
		limiter:    limiter,
		limits:     limits,
		successURL: successURL,
		log:        &l,
		now:        systemClock,
	}
}

func (uc *checkoutUC) SetClock(c Clock) { uc.now = c }

func (uc *checkoutUC) Checkout(ctx context.Context, userID, email string, planID model.PlanID) (*CheckoutResult, error) {
	defer logging.TraceDuration(uc.log, "CheckoutUC.Checkout")()
	log := logging.With(logging.WithUserID(ctx, userID), uc.log)

	plan, err := uc.plans.Get(planID)
	if err != nil {
		metrics.IncCheckout(string(planID), "unknown_plan")
		return nil, err
	}
	if plan.IsFree() {
		metrics.IncCheckout(string(planID), "invalid")
		return nil, fmt.Errorf("%w: the free plan needs no checkout", domain.ErrInvalidArgument)
	}

	u, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// One paid entitlement at a time: a second purchase would leave two
	// active ledger records for the user.
	if u != nil && u.Entitlement.Plan != model.PlanFree && u.Entitlement.IsEntitled(uc.now()) {
		metrics.IncCheckout(string(planID), "already_active")
		if u.Entitlement.Plan == plan.ID {
			return nil, domain.ErrPlanAlreadyActive
		}
		return nil, fmt.Errorf("%w: %s is active until it ends or is cancelled", domain.ErrPlanAlreadyActive, u.Entitlement.Plan)
	}
	if u != nil && email == "" {
		email = u.Email
	}

	if uc.limiter != nil && uc.limits.Limit > 0 {
		ok, err := uc.limiter.Allow(ctx, red.UserActionKey(userID, "checkout"), uc.limits.Limit, uc.limits.Window)
		if err != nil {
			log.Warn().Err(err).Msg("checkout rate limiter unavailable")
		} else if !ok {
			metrics.IncRateLimitTriggered("checkout")
			metrics.IncCheckout(string(planID), "rate_limited")
			return nil, domain.ErrRateLimited
		}
	}

	sess, err := uc.provider.CreateCheckout(ctx, adapter.CheckoutRequest{
		PlanID:     plan.ID,
		PriceID:    plan.ProviderPriceID,
		UserID:     userID,
		Email:      email,
		SuccessURL: uc.successURL,
	})
	if err != nil {
		metrics.IncCheckout(string(planID), "upstream_error")
		log.Error().Err(err).Str("plan", string(planID)).Msg("provider checkout failed")
		if errors.Is(err, domain.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	metrics.IncCheckout(string(planID), "created")
	log.Info().Str("plan", string(planID)).Str("transaction_id", sess.TransactionID).Msg("checkout created")
	return &CheckoutResult{CheckoutURL: sess.URL, TransactionID: sess.TransactionID}, nil
}
