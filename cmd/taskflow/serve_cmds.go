package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/darkden-lab/taskflow/internal/broker"
	"github.com/darkden-lab/taskflow/internal/config"
)

type runFunc func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, dialer broker.Dialer) error

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Run the task service on PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), runTasks)
		},
	}
}

func newNotificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "Run the notification service on NOTIFICATIONS_PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), runNotifications)
		},
	}
}

// runService runs one service against the broker named by BROKER_DRIVER.
func runService(parent context.Context, run runFunc) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(parent)
	defer stop()

	database, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	dialer, err := broker.NewDialer(cfg, logger)
	if err != nil {
		return err
	}
	return run(ctx, cfg, logger, database.Pool, dialer)
}

func newDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Run both services in one process over an in-process broker",
		Long: `dev starts the task service on PORT and the notification service on
NOTIFICATIONS_PORT, linked by an in-memory queue. BROKER_DRIVER is ignored;
the cache still follows CACHE_DRIVER.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Port == cfg.NotificationsPort {
				return fmt.Errorf("PORT and NOTIFICATIONS_PORT must differ, both are %s", cfg.Port)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			database, err := openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			return runTogether(ctx, broker.NewMemoryBroker(), cfg, logger, database.Pool, runTasks, runNotifications)
		},
	}
}

// runTogether runs every service on the shared dialer. The first to fail
// stops the rest.
func runTogether(parent context.Context, dialer broker.Dialer, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, runs ...runFunc) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	errCh := make(chan error, len(runs))
	for _, run := range runs {
		go func(run runFunc) {
			errCh <- run(ctx, cfg, logger, pool, dialer)
		}(run)
	}

	var errs []error
	for range runs {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
			cancel()
		}
	}
	return errors.Join(errs...)
}
