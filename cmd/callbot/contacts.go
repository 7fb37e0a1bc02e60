package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daniil-berg/callbot/internal/contacts"
)

func newContactsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage stored contacts",
	}
	cmd.AddCommand(newContactsImportCmd(opts))
	cmd.AddCommand(newContactsListCmd(opts))
	return cmd
}

func newContactsImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv>",
		Short: "Import contacts from a CSV file with a header row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx := context.Background()
			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(ctx)
			if !st.persistent() {
				return errNoDatabase
			}

			stats, err := contacts.NewImporter(st.contacts, cfg.Call.DefaultPhoneRegion, logger).Import(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d/%d rows (%d invalid, %d duplicate)\n",
				stats.Imported, stats.Total, stats.Invalid, stats.Duplicate)
			return nil
		},
	}
}

func newContactsListCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored contacts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(ctx)
			if !st.persistent() {
				return errNoDatabase
			}

			list, err := st.contacts.List(ctx, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE\tNAME\tCOMPANY\tEMAIL")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Phone, c.FullName(), c.Company, c.Email)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of contacts (0 means no limit)")
	return cmd
}
