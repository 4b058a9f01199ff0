package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"novacv/internal/infra/api"
	pg "novacv/internal/infra/db/postgres"
)

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Run the embedded database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			cfg, log, err := loadApp(f)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
			if err != nil {
				return err
			}
			defer pool.Close()
			return pg.Migrate(ctx, pool, direction, log)
		},
	}
}

func newSweepCmd(f *rootFlags) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed entitlements and reconcile stale users once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadApp(f)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			expired, err := a.reconcileUC.SweepExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if batch <= 0 {
				batch = cfg.Scheduler.ReconcileBatch
			}
			rep, err := a.reconcileUC.ReconcileStale(ctx, batch)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			rep.Expired = expired
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d checked=%d repaired=%d\n", rep.Expired, rep.Checked, rep.Repaired)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "max stale users to reconcile (default scheduler.reconcile_batch)")
	return cmd
}

// newTokenCmd mints a bearer token with the configured secret for local use.
func newTokenCmd(f *rootFlags) *cobra.Command {
	var userID, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadApp(f)
			if err != nil {
				return err
			}
			if !cfg.Runtime.Dev {
				return fmt.Errorf("token is only available with --dev")
			}
			tok, err := api.NewJWTAuth(cfg.Auth.JWTSecret).Mint(userID, email, "", ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "novacv %s (%s)\n", version, commit)
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
