package main

import (
	"github.com/spf13/cobra"

	"github.com/darkden-lab/taskflow/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Long:      "migrate runs every pending migration against DATABASE_URL, or rolls all of them back with down. It defaults to up.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(db.Up), string(db.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			dir := db.Up
			if len(args) == 1 {
				dir = db.Direction(args[0])
			}
			if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, dir); err != nil {
				return err
			}
			logger.Info().Str("direction", string(dir)).Msg("migrations complete")
			return nil
		},
	}
}
