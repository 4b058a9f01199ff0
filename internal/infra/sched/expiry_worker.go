package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"novacv/internal/usecase"
)

// ExpiryWorker periodically flips lapsed active entitlements to expired.
// Reads already re-derive expiry; the sweep keeps stored rows and the
// per-plan gauges honest.
type ExpiryWorker struct {
	interval time.Duration
	uc       usecase.ReconcileUseCase
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, uc usecase.ReconcileUseCase, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{interval: interval, uc: uc, log: &l}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep bounded by the worker interval.
func (w *ExpiryWorker) Tick(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()
	n, err := w.uc.SweepExpired(runCtx)
	if err != nil {
		w.log.Error().Err(err).Int("expired", n).Msg("expiry sweep failed")
		return n
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("entitlements expired")
	}
	return n
}
