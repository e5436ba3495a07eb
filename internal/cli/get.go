package cli

import (
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <operation-id>",
		Short: "Show an operation and its channels",
		Long: `Show the persisted state of an operation: its status, error summary
and every channel with its attempt count.

Examples:
  opsd get 01929c4e-7a1b-7c3d-9e8f-0a1b2c3d4e5f
  opsd get 01929c4e-7a1b-7c3d-9e8f-0a1b2c3d4e5f --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, id string, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	view, err := a.engine.GetOperation(commandContext(cmd), id)
	if err != nil {
		if opts.Format == "json" {
			_ = out.Error(errorCode(err), err.Error(), nil)
		}
		return wrapEngineError("failed to get operation", err)
	}
	return out.Operation(view)
}
