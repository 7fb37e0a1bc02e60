package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daniil-berg/callbot/internal/auth"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a fresh single-use API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Auth.Secret == "" {
				return errors.New("AUTH_SECRET is required")
			}

			// Issuing never consults the used-token store.
			tokens, err := auth.NewTokenService(cfg.Auth, auth.NewMemoryTokenStore())
			if err != nil {
				return err
			}
			token, err := tokens.Issue()
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
