package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"novacv/internal/usecase"
)

// Reconciler re-projects users whose ledger changed after their entitlement
// was written, which covers crashes between commit and cache invalidation
// and any write that bypassed the processor.
type Reconciler struct {
	interval time.Duration
	batch    int
	uc       usecase.ReconcileUseCase
	log      *zerolog.Logger
}

func NewReconciler(interval time.Duration, batch int, uc usecase.ReconcileUseCase, logger *zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "Reconciler").Logger()
	return &Reconciler{interval: interval, batch: batch, uc: uc, log: &l}
}

func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Int("batch", r.batch).Msg("Starting reconciler")
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Stopping reconciler")
			return ctx.Err()
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

func (r *Reconciler) Tick(ctx context.Context) *usecase.SweepReport {
	runCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	rep, err := r.uc.ReconcileStale(runCtx, r.batch)
	if err != nil {
		r.log.Error().Err(err).Msg("reconcile pass failed")
		return nil
	}
	if rep.Repaired > 0 {
		r.log.Warn().Int("checked", rep.Checked).Int("repaired", rep.Repaired).Msg("reconcile pass repaired drift")
	} else if rep.Checked > 0 {
		r.log.Debug().Int("checked", rep.Checked).Msg("reconcile pass clean")
	}
	return rep
}
