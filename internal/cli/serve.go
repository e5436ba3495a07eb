package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool and retry scheduler",
		Long: `Start the engine's worker pool and retry scheduler against the database.

Channels left running by a crashed process are released to pending on
start. Queued asynchronous operations and due retries are executed until
the process receives SIGINT or SIGTERM; in-flight attempts are then
cancelled and released so the next start picks them up.

Only one process should serve a database at a time.

Example:
  opsd serve --config opsd.yaml
  opsd serve --db ./opsd.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for workers on shutdown")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	open, err := a.engine.OpenOperations(ctx)
	if err != nil {
		return wrapEngineError("failed to read database", err)
	}
	a.logger.Info("engine starting", "db", a.cfg.Database, "open_operations", open)
	if err := a.engine.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start engine", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Processing operations...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	<-ctx.Done()

	if err := a.engine.Shutdown(opts.ShutdownTimeout); err != nil {
		return WrapExitError(ExitFailure, "engine shutdown failed", err)
	}
	a.logger.Info("engine stopped gracefully")
	return nil
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Finish all outstanding work, then exit",
		Long: `Run recovery once: release channels interrupted by a crash, then execute
every pending channel, waiting out retry delays, until no open operation
has work left.

Example:
  opsd resume --db ./opsd.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(rootOpts, cmd)
		},
	}
	return cmd
}

func runResume(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	open, err := a.engine.OpenOperations(ctx)
	if err != nil {
		return wrapEngineError("failed to read database", err)
	}
	a.logger.Info("resuming outstanding work", "db", a.cfg.Database, "open_operations", open)
	if err := a.engine.Drain(ctx); err != nil {
		if errors.Is(err, ctx.Err()) {
			return WrapExitError(ExitFailure, "resume interrupted", err)
		}
		return wrapEngineError("resume failed", err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(map[string]any{"result": "drained", "resumed": open})
	}
	if open > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Resumed %d operation(s)\n", open)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ No outstanding work")
	return nil
}
