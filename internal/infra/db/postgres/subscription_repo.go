package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

// PayloadSealer encrypts raw webhook bodies before they are stored.
type PayloadSealer interface {
	Seal(plaintext []byte) (string, error)
	Open(stored string) ([]byte, error)
}

type PostgresSubscriptionRepo struct {
	pool   *pgxpool.Pool
	sealer PayloadSealer
}

// NewPostgresSubscriptionRepo stores payloads in clear text when sealer is nil.
func NewPostgresSubscriptionRepo(pool *pgxpool.Pool, sealer PayloadSealer) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{pool: pool, sealer: sealer}
}

const recordColumns = `id, user_id, external_subscription_id, external_customer_id, plan, status, billing_type,
  current_period_start, current_period_end, next_billed_at, cancelled_at, revoked_at,
  unit_price, currency, last_event_at, created_at, updated_at`

func (r *PostgresSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.SubscriptionRecord) error {
	const q = `
INSERT INTO subscription_records (
  id, user_id, external_subscription_id, external_customer_id, plan, status, billing_type,
  current_period_start, current_period_end, next_billed_at, cancelled_at, revoked_at,
  unit_price, currency, last_event_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (id) DO UPDATE SET
  external_customer_id=EXCLUDED.external_customer_id,
  plan=EXCLUDED.plan, status=EXCLUDED.status,
  current_period_start=EXCLUDED.current_period_start, current_period_end=EXCLUDED.current_period_end,
  next_billed_at=EXCLUDED.next_billed_at, cancelled_at=EXCLUDED.cancelled_at, revoked_at=EXCLUDED.revoked_at,
  unit_price=EXCLUDED.unit_price, currency=EXCLUDED.currency,
  last_event_at=EXCLUDED.last_event_at, updated_at=EXCLUDED.updated_at;
`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.ExternalSubscriptionID, s.ExternalCustomerID, string(s.Plan), string(s.Status), string(s.BillingType),
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.NextBilledAt, s.CancelledAt, s.RevokedAt,
		s.UnitPrice, s.Currency, s.LastEventAt, s.CreatedAt, s.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM subscription_records WHERE id=$1;`
	return r.findOne(ctx, tx, q, id)
}

func (r *PostgresSubscriptionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.SubscriptionRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM subscription_records WHERE external_subscription_id=$1;`
	return r.findOne(ctx, tx, q, externalID)
}

func (r *PostgresSubscriptionRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg string) (*model.SubscriptionRecord, error) {
	rec, err := scanRecord(pickRow(ctx, r.pool, tx, q, arg))
	if err != nil {
		if mapErr(err) == domain.ErrNotFound {
			return nil, domain.ErrRecordNotFound
		}
		return nil, mapErr(err)
	}
	return rec, nil
}

func (r *PostgresSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SubscriptionRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM subscription_records WHERE user_id=$1 ORDER BY created_at DESC, id DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.SubscriptionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, rec)
	}
	return out, mapErr(rows.Err())
}

func (r *PostgresSubscriptionRepo) AppendEvent(ctx context.Context, tx repository.Tx, ev *model.SubscriptionEvent) error {
	const q = `
INSERT INTO subscription_events (id, record_id, external_event_id, event_type, raw_payload, occurred_at, processed_at, applied)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	payload := string(ev.RawPayload)
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(ev.RawPayload)
		if err != nil {
			return fmt.Errorf("seal payload: %w", err)
		}
		payload = sealed
	}
	_, err := execSQL(ctx, r.pool, tx, q, ev.ID, ev.RecordID, ev.ExternalEventID, ev.EventType, payload, ev.OccurredAt, ev.ProcessedAt, ev.Applied)
	return mapErr(err)
}

func (r *PostgresSubscriptionRepo) ListEvents(ctx context.Context, tx repository.Tx, recordID string) ([]model.SubscriptionEvent, error) {
	const q = `
SELECT id, record_id, external_event_id, event_type, raw_payload, occurred_at, processed_at, applied
  FROM subscription_events WHERE record_id=$1 ORDER BY occurred_at, processed_at;`
	rows, err := queryRows(ctx, r.pool, tx, q, recordID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []model.SubscriptionEvent
	for rows.Next() {
		var ev model.SubscriptionEvent
		var payload string
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ev.ExternalEventID, &ev.EventType, &payload, &ev.OccurredAt, &ev.ProcessedAt, &ev.Applied); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		if r.sealer != nil {
			raw, err := r.sealer.Open(payload)
			if err != nil {
				return nil, fmt.Errorf("open payload %s: %w", ev.ID, err)
			}
			ev.RawPayload = raw
		} else {
			ev.RawPayload = []byte(payload)
		}
		out = append(out, ev)
	}
	return out, mapErr(rows.Err())
}

func (r *PostgresSubscriptionRepo) ListStaleUsers(ctx context.Context, tx repository.Tx, limit int) ([]string, error) {
	const q = `
SELECT DISTINCT s.user_id
  FROM subscription_records s
  JOIN users u ON u.id = s.user_id
 WHERE s.updated_at > u.updated_at
 LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		ids = append(ids, id)
	}
	return ids, mapErr(rows.Err())
}

func scanRecord(row pgx.Row) (*model.SubscriptionRecord, error) {
	var (
		s                         model.SubscriptionRecord
		plan, status, billingType string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.ExternalSubscriptionID, &s.ExternalCustomerID, &plan, &status, &billingType,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.NextBilledAt, &s.CancelledAt, &s.RevokedAt,
		&s.UnitPrice, &s.Currency, &s.LastEventAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Plan = model.PlanID(plan)
	s.Status = model.RecordStatus(status)
	s.BillingType = model.BillingType(billingType)
	return &s, nil
}
