package repository

import (
	"context"

	"novacv/internal/domain/model"
)

// ProcessedEventRepository remembers provider event ids already applied.
type ProcessedEventRepository interface {
	// MarkProcessed records ev and reports false if its id was already there.
	MarkProcessed(ctx context.Context, tx Tx, ev *model.ProcessedEvent) (bool, error)
	SetOutcome(ctx context.Context, tx Tx, externalEventID string, outcome model.EventOutcome) error
}
