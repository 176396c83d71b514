package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cilium-io/xdploader/pkg/ifindex"
	"github.com/cilium-io/xdploader/pkg/loader"
	"github.com/cilium-io/xdploader/pkg/loaderr"
	"github.com/cilium-io/xdploader/pkg/logging"
)

// loadOptions holds the "load" subcommand's own flags.
type loadOptions struct {
	object  string
	iface   string
	pinPath string // reserved, unimplemented — see spec.md non-goals
}

func newLoadCommand() *cobra.Command {
	opts := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load an eBPF object's xdp program and attach it to a network interface",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLoad(opts)
		},
	}

	cmd.Flags().StringVar(&opts.object, "object", "", "path to the compiled eBPF object file")
	cmd.Flags().StringVar(&opts.iface, "iface", "", "network interface to attach the XDP program to")
	cmd.Flags().StringVar(&opts.pinPath, "pin-path", "", "reserved: BPF filesystem pin path (not yet implemented)")

	cmd.MarkFlagRequired("object")
	cmd.MarkFlagRequired("iface")

	return cmd
}

func runLoad(opts *loadOptions) error {
	if opts.pinPath != "" {
		return fmt.Errorf("--pin-path is reserved for future use")
	}

	data, err := os.ReadFile(opts.object)
	if err != nil {
		return fmt.Errorf("reading object file %q: %w: %w", opts.object, loaderr.ErrIo, err)
	}

	idx, err := ifindex.Resolve(opts.iface)
	if err != nil {
		return err
	}

	log := logging.WithComponent("cmd")
	log.WithField("object", opts.object).WithField("iface", opts.iface).Info("loading")

	result, err := loader.Load(data, loader.Options{ProgSection: "xdp", Ifindex: idx, LogLevel: 1})
	if err != nil {
		return err
	}

	log.WithField("prog_fd", result.Prog.Fd).WithField("link_fd", result.Link.Fd).Info("attached")
	fmt.Printf("attached: prog_fd=%d link_fd=%d maps=%d\n", result.Prog.Fd, result.Link.Fd, len(result.Maps))
	return nil
}
