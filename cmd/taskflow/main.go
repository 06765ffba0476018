package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/darkden-lab/taskflow/internal/config"
	"github.com/darkden-lab/taskflow/internal/logging"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskflow",
		Short: "TaskFlow task and notification services",
		Long: `taskflow runs the task service, which publishes an event for every
mutation, and the notification service, which consumes those events and
turns them into per-user notifications.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TASKFLOW_CONFIG"),
		"Path to a config file (yaml, json or toml); environment variables override it")

	rootCmd.AddCommand(
		newTasksCmd(),
		newNotificationsCmd(),
		newDevCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newUserCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the root logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}
