package repository

import (
	"context"

	"novacv/internal/domain/model"
)

// SubscriptionRepository is the port for the subscription ledger.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, r *model.SubscriptionRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.SubscriptionRecord, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.SubscriptionRecord, error)
	// ListByUser returns the user's records newest first, without events.
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.SubscriptionRecord, error)

	// AppendEvent adds to the record's audit log. There is no update or
	// delete counterpart.
	AppendEvent(ctx context.Context, tx Tx, ev *model.SubscriptionEvent) error
	ListEvents(ctx context.Context, tx Tx, recordID string) ([]model.SubscriptionEvent, error)

	// ListStaleUsers returns users whose ledger changed after their
	// entitlement projection was last written.
	ListStaleUsers(ctx context.Context, tx Tx, limit int) ([]string, error)
}
