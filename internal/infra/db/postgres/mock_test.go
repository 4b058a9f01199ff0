//go:build !integration

package postgres

import (
	"context"
	"time"

	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
	red "novacv/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerUserRepo mocks the database repository that the User decorator wraps.
type mockInnerUserRepo struct {
	SaveFunc              func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByIDFunc          func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	LockFunc              func(ctx context.Context, tx repository.Tx, id string) error
	ListExpiredActiveFunc func(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error)
	CountByPlanFunc       func(ctx context.Context, tx repository.Tx) (map[model.PlanID]int, error)
}

func (m *mockInnerUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	return m.SaveFunc(ctx, tx, u)
}
func (m *mockInnerUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) Lock(ctx context.Context, tx repository.Tx, id string) error {
	return m.LockFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) ListExpiredActive(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	return m.ListExpiredActiveFunc(ctx, tx, now, limit)
}
func (m *mockInnerUserRepo) CountByPlan(ctx context.Context, tx repository.Tx) (map[model.PlanID]int, error) {
	return m.CountByPlanFunc(ctx, tx)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
