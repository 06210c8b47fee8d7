package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/repairsync/internal/config"
)

// NewValidateConfigCommand creates the validate-config command.
func NewValidateConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config <file>",
		Short: "Check a configuration file against the schema",
		Long: `Check a configuration file against the embedded schema and the
constraints between its values. Unknown keys are rejected.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if _, err := config.Load(args[0]); err != nil {
				return out.Fail(ExitFailure, CodeConfig, err)
			}
			if out.JSON() {
				return out.Success(map[string]any{"file": args[0], "valid": true})
			}
			return out.Success(fmt.Sprintf("%s: valid", args[0]))
		},
	}
}
