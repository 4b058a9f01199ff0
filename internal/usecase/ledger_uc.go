package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/logging"
)

var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase is the read side of the subscription ledger for operators.
type LedgerUseCase interface {
	// History returns the user's records newest first, each with its events.
	History(ctx context.Context, userID string) ([]*model.SubscriptionRecord, error)
}

type ledgerUC struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	log   *zerolog.Logger
}

func NewLedgerUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, logger *zerolog.Logger) *ledgerUC {
	l := logger.With().Str("component", "LedgerUC").Logger()
	return &ledgerUC{users: users, subs: subs, log: &l}
}

func (uc *ledgerUC) History(ctx context.Context, userID string) ([]*model.SubscriptionRecord, error) {
	defer logging.TraceDuration(uc.log, "LedgerUC.History")()

	if _, err := uc.users.FindByID(ctx, repository.NoTX, userID); err != nil {
		return nil, err
	}
	recs, err := uc.subs.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		evs, err := uc.subs.ListEvents(ctx, repository.NoTX, r.ID)
		if err != nil {
			return nil, err
		}
		r.Events = evs
	}
	return recs, nil
}
