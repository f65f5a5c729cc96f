package env

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xbridge/cmd/xbridge/internal"
)

func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the bridge configuration resolved from XBRIDGE_* variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
