package usecase

import (
	"context"
	"errors"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/logging"
	"novacv/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase registers users lazily from authenticated requests.
type UserUseCase interface {
	// Ensure returns the user, creating a free one on first sight.
	Ensure(ctx context.Context, id, email string) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
}

type userUC struct {
	users repository.UserRepository
	plans PlanCatalog
	tm    repository.TransactionManager
	log   *zerolog.Logger
	now   Clock
}

func NewUserUseCase(users repository.UserRepository, plans PlanCatalog, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUC").Logger()
	return &userUC{
		users: users,
		plans: plans,
		tm:    tm,
		log:   &l,
		now:   systemClock,
	}
}

func (u *userUC) Ensure(ctx context.Context, id, email string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.Ensure")()
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}

	usr, err := u.users.FindByID(ctx, repository.NoTX, id)
	if err == nil {
		return usr, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var created bool
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.users.Lock(ctx, tx, id); err != nil {
			return err
		}
		// Another request may have registered the user while we waited.
		var err error
		usr, created, err = loadOrCreateUser(ctx, tx, u.users, u.plans, id, email, u.now())
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return u.users.Save(ctx, tx, usr)
	})
	if err != nil {
		u.log.Error().Err(err).Str("user_id", id).Msg("failed to register user")
		return nil, err
	}
	if created {
		metrics.IncUsersRegistered()
		u.log.Info().Str("user_id", id).Msg("user registered")
	}
	return usr, nil
}

func (u *userUC) Get(ctx context.Context, id string) (*model.User, error) {
	return u.users.FindByID(ctx, repository.NoTX, id)
}
