package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/repository"
	"novacv/internal/infra/metrics"
	red "novacv/internal/infra/redis"
)

var (
	_ repository.UserRepository   = (*userRepoCacheDecorator)(nil)
	_ repository.EntitlementCache = (*userRepoCacheDecorator)(nil)
)

type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

// CachedUserRepo is the user repository plus the invalidation hook writers
// call after commit.
type CachedUserRepo interface {
	repository.UserRepository
	repository.EntitlementCache
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration, log *zerolog.Logger) CachedUserRepo {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &userRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

func userKey(id string) string { return "user:id:" + id }

func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	_ = d.cache.Del(ctx, userKey(u.ID))
	return d.inner.Save(ctx, tx, u)
}

// FindByID serves pool reads from the cache. Reads inside a transaction go
// to the database so they observe the locked row.
func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		metrics.IncUserCacheLookup("bypass")
		return d.inner.FindByID(ctx, tx, id)
	}
	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncUserCacheLookup("hit")
			return &user, nil
		}
		metrics.IncUserCacheLookup("error")
	} else if !red.IsMiss(err) {
		d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		metrics.IncUserCacheLookup("error")
	} else {
		metrics.IncUserCacheLookup("miss")
	}

	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(user); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return user, nil
}

func (d *userRepoCacheDecorator) Invalidate(ctx context.Context, userID string) error {
	err := d.cache.Del(ctx, userKey(userID))
	metrics.IncUserCacheInvalidation(err)
	return err
}

// Pass-through methods that don't need caching
func (d *userRepoCacheDecorator) Lock(ctx context.Context, tx repository.Tx, id string) error {
	return d.inner.Lock(ctx, tx, id)
}

func (d *userRepoCacheDecorator) ListExpiredActive(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	return d.inner.ListExpiredActive(ctx, tx, now, limit)
}

func (d *userRepoCacheDecorator) CountByPlan(ctx context.Context, tx repository.Tx) (map[model.PlanID]int, error) {
	return d.inner.CountByPlan(ctx, tx)
}
