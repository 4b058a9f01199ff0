package repository

import (
	"context"
	"time"

	"novacv/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// Lock blocks until no other transaction holds the user's lock. The lock
	// is released when tx ends, so it is only meaningful inside WithTx.
	Lock(ctx context.Context, tx Tx, id string) error
	// ListExpiredActive returns ids of users stored as active whose end date
	// is at or before now.
	ListExpiredActive(ctx context.Context, tx Tx, now time.Time, limit int) ([]string, error)
	CountByPlan(ctx context.Context, tx Tx) (map[model.PlanID]int, error)
}

// EntitlementCache is a read cache in front of UserRepository. Writers call
// Invalidate after their transaction commits.
type EntitlementCache interface {
	Invalidate(ctx context.Context, userID string) error
}
