package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daniil-berg/callbot/adapters/twilio"
	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/auth"
)

func newCallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <phone>",
		Short: "Call a stored contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := cfg.ValidateCalling(); err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return errors.New("AUTH_SECRET is required")
			}

			phone, err := entities.NormalizePhone(args[0], cfg.Call.DefaultPhoneRegion)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())
			if !st.persistent() {
				return errNoDatabase
			}

			contact, err := st.contacts.FindByPhone(ctx, phone)
			if errors.Is(err, repositories.ErrContactNotFound) {
				return fmt.Errorf("no contact with phone %s", phone)
			}
			if err != nil {
				return err
			}

			// The token is redeemed by the server, which shares the store.
			tokens, err := auth.NewTokenService(cfg.Auth, st.usedTokens)
			if err != nil {
				return err
			}
			caller, err := twilio.New(twilioConfig(cfg), tokens, logger)
			if err != nil {
				return err
			}
			sid, err := caller.Call(ctx, contact)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Call SID for %s: %s\n", phone, sid)
			return nil
		},
	}
}
