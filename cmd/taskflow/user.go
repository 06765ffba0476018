package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/taskflow/internal/users"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the users notifications are addressed to",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Insert a user and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			database, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			u, err := users.NewStore(database.Pool).Create(cmd.Context(), email, name)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(u)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
