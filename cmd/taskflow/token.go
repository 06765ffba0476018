package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/darkden-lab/taskflow/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed JWT for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// user ids are UUID columns; anything else fails every query.
			if _, err := uuid.Parse(userID); err != nil {
				return fmt.Errorf("--user-id must be a UUID: %w", err)
			}
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			jwt := auth.NewJWTService(cfg.JWTSecret)
			if ttl > 0 {
				jwt = jwt.WithTTL(ttl)
			}
			token, err := jwt.GenerateToken(userID, email)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Subject user id, a UUID (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default 24h)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
