package domain

import (
	"errors"
	"fmt"
)

var (
	// Taxonomy classes. Everything returned across a port wraps one of these.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstream        = errors.New("upstream provider error")
	ErrConsistency     = errors.New("ledger and entitlement out of sync")

	// Storage plumbing
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

var (
	ErrPlanNotFound       = fmt.Errorf("plan: %w", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("user: %w", ErrNotFound)
	ErrRecordNotFound     = fmt.Errorf("subscription record: %w", ErrNotFound)
	ErrNoSubscription     = fmt.Errorf("no cancellable subscription: %w", ErrNotFound)
	ErrInvalidSignature   = fmt.Errorf("webhook signature: %w", ErrUnauthorized)
	ErrFeatureUnavailable = fmt.Errorf("feature not available on current plan: %w", ErrForbidden)
	ErrUsageLimitReached  = fmt.Errorf("usage limit reached: %w", ErrForbidden)
	ErrEventInFlight      = fmt.Errorf("webhook event is being processed: %w", ErrAlreadyExists)
	ErrPlanAlreadyActive  = fmt.Errorf("plan already active: %w", ErrAlreadyExists)
)
