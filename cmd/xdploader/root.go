package main

import (
	"github.com/spf13/cobra"

	"github.com/cilium-io/xdploader/pkg/logging"
)

// rootOptions holds flags shared across every subcommand.
type rootOptions struct {
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{logLevel: "info"}

	cmd := &cobra.Command{
		Use:           "xdploader",
		Short:         "Load and attach eBPF XDP programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return logging.SetLevel(opts.logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(newLoadCommand())

	return cmd
}
