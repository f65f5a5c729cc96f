package demo

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xbridge"
	"github.com/trickstertwo/xbridge/adapter/memory"
	"github.com/trickstertwo/xbridge/cmd/xbridge/internal"
)

func NewDemoCommand() *cobra.Command {
	var (
		debug   bool
		channel string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run three participants (shell, catalog, cart) on one in-memory hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if cmd.Flags().Changed("channel") {
				cfg.Channel = channel
			}
			if cmd.Flags().Changed("timeout") {
				cfg.RequestTimeout = timeout
			}
			cfg.Transport = memory.TransportName
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDemo(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Trace every envelope in and out")
	cmd.Flags().StringVar(&channel, "channel", memory.DefaultChannel, "Name of the shared in-memory hub")
	cmd.Flags().DurationVar(&timeout, "timeout", xbridge.DefaultRequestTimeout, "Default request timeout")

	return cmd
}
