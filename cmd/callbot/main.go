package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/config"
)

// globalOptions are the flags shared by all commands.
type globalOptions struct {
	verbose int
	quiet   int
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "callbot",
		Short:         "Phone call bot bridging Twilio media streams to realtime AI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose > 0 && opts.quiet > 0 {
				return errors.New("--verbose and --quiet cannot be used together")
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (-v info, -vv debug), overrides LOG_LEVEL")
	flags.CountVarP(&opts.quiet, "quiet", "q", "decrease log verbosity (-q error, -qq fatal), overrides LOG_LEVEL")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newContactsCmd(opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callbot: %v\n", err)
		os.Exit(1)
	}
}

// load reads the configuration and builds the logger, honouring the
// verbosity flags.
func (o *globalOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	switch {
	case o.verbose == 1:
		cfg.Log.Level = "info"
	case o.verbose >= 2:
		cfg.Log.Level = "debug"
	case o.quiet == 1:
		cfg.Log.Level = "error"
	case o.quiet >= 2:
		cfg.Log.Level = "fatal"
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
