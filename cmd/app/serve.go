package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"novacv/internal/infra/api/apiv1"
	pg "novacv/internal/infra/db/postgres"
	"novacv/internal/infra/metrics"
	"novacv/internal/infra/sched"
	"novacv/internal/usecase"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
}

func runServe(parent context.Context, f *rootFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadApp(f)
	if err != nil {
		return err
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	ai, model, err := buildAI(ctx, cfg.AI, log)
	if err != nil {
		return err
	}
	aiUC := usecase.NewAIUseCase(a.entUC, ai, usecase.AIConfig{Model: model, MaxPromptTokens: cfg.AI.MaxPromptTokens}, log)

	srv := apiv1.NewServer(apiv1.Deps{
		Plans:        a.planUC,
		Users:        a.userUC,
		Entitlements: a.entUC,
		Checkout:     a.checkoutUC,
		Webhooks:     a.webhookUC,
		AI:           aiUC,
		Ledger:       a.ledgerUC,
		Reconcile:    a.reconcileUC,
		Provider:     a.provider,
	}, apiv1.Options{
		JWTSecret:       cfg.Auth.JWTSecret,
		AdminAPIKey:     cfg.Auth.AdminAPIKey,
		MaxWebhookBytes: cfg.Payment.WebhookMaxBodyBytes,
		RequestTimeout:  cfg.Server.RequestTimeout,
		Dev:             cfg.Runtime.Dev,
	}, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("provider", a.provider.Name()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown requested")
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		return server.Shutdown(shutCtx)
	})
	g.Go(func() error {
		return sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, a.reconcileUC, log).Run(gctx)
	})
	g.Go(func() error {
		return sched.NewReconciler(cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileBatch, a.reconcileUC, log).Run(gctx)
	})
	g.Go(func() error {
		return pg.ReportPoolStats(gctx, a.pool, 15*time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("bye")
	return nil
}
