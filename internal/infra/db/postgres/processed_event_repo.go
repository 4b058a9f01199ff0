package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
)

var _ repository.ProcessedEventRepository = (*PostgresProcessedEventRepo)(nil)

type PostgresProcessedEventRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresProcessedEventRepo(pool *pgxpool.Pool) *PostgresProcessedEventRepo {
	return &PostgresProcessedEventRepo{pool: pool}
}

func (r *PostgresProcessedEventRepo) MarkProcessed(ctx context.Context, tx repository.Tx, ev *model.ProcessedEvent) (bool, error) {
	const q = `
INSERT INTO processed_webhook_events (external_event_id, provider, event_type, occurred_at, processed_at, outcome)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (external_event_id) DO NOTHING;`
	outcome := ev.Outcome
	if outcome == "" {
		outcome = model.OutcomePending
	}
	tag, err := execSQL(ctx, r.pool, tx, q, ev.ExternalEventID, ev.Provider, ev.EventType, ev.OccurredAt, ev.ProcessedAt, string(outcome))
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresProcessedEventRepo) SetOutcome(ctx context.Context, tx repository.Tx, externalEventID string, outcome model.EventOutcome) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE processed_webhook_events SET outcome=$2 WHERE external_event_id=$1;`, externalEventID, string(outcome))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
