package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, email, plan, status, start_date, end_date, auto_renew, usage::text, created_at, updated_at`

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (
  id, email, plan, status, start_date, end_date, auto_renew, usage, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10
) ON CONFLICT (id) DO UPDATE SET
  email=EXCLUDED.email, plan=EXCLUDED.plan, status=EXCLUDED.status,
  start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date,
  auto_renew=EXCLUDED.auto_renew, usage=EXCLUDED.usage, updated_at=EXCLUDED.updated_at;
`
	usage, err := json.Marshal(u.Entitlement.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	e := u.Entitlement
	_, err = execSQL(ctx, r.pool, tx, q,
		u.ID, u.Email, string(e.Plan), string(e.Status), e.StartDate, e.EndDate, e.AutoRenew,
		string(usage), u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1;`
	u, err := scanUser(pickRow(ctx, r.pool, tx, q, id))
	if err != nil {
		if mapErr(err) == domain.ErrNotFound {
			return nil, domain.ErrUserNotFound
		}
		return nil, mapErr(err)
	}
	return u, nil
}

// Lock takes a transaction-scoped advisory lock keyed by the user id.
func (r *PostgresUserRepo) Lock(ctx context.Context, tx repository.Tx, id string) error {
	if _, ok := tx.(pgx.Tx); !ok {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1)`, hashToInt64("user:"+id))
	return mapErr(err)
}

func (r *PostgresUserRepo) ListExpiredActive(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	const q = `
SELECT id FROM users
 WHERE status='active' AND end_date IS NOT NULL AND end_date <= $1
 ORDER BY end_date
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
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

func (r *PostgresUserRepo) CountByPlan(ctx context.Context, tx repository.Tx) (map[model.PlanID]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT plan, COUNT(*) FROM users WHERE status='active' GROUP BY plan;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make(map[model.PlanID]int)
	for rows.Next() {
		var plan string
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out[model.PlanID(plan)] = n
	}
	return out, mapErr(rows.Err())
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u            model.User
		plan, status string
		usage        string
	)
	if err := row.Scan(&u.ID, &u.Email, &plan, &status, &u.Entitlement.StartDate, &u.Entitlement.EndDate,
		&u.Entitlement.AutoRenew, &usage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Entitlement.Plan = model.PlanID(plan)
	u.Entitlement.Status = model.EntitlementStatus(status)
	if usage != "" {
		if err := json.Unmarshal([]byte(usage), &u.Entitlement.Usage); err != nil {
			return nil, fmt.Errorf("%w: usage: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &u, nil
}
