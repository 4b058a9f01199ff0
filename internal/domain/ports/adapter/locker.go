package adapter

import (
	"context"
	"time"
)

// Locker is a short-lived distributed mutex.
type Locker interface {
	// TryLock returns a token for Unlock, or domain.ErrAlreadyExists when
	// the key stays held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
