package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xbridge/cmd/xbridge/internal/demo"
	"github.com/trickstertwo/xbridge/cmd/xbridge/internal/env"
)

func NewXbridgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "xbridge",
		Short:   "In-process message bridge for independently deployed UI fragments",
		Example: "XBRIDGE_DEBUG=true xbridge demo",
	}

	cmd.AddCommand(
		demo.NewDemoCommand(),
		env.NewEnvCommand(),
	)

	return cmd
}

func main() {
	cmd := NewXbridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
