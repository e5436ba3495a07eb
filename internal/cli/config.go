package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/opsd/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a config file against the schema",
		Long: `Check a YAML config file against the embedded schema and report every
violation with its path.

Example:
  opsd config validate opsd.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(rootOpts, args[0], cmd)
		},
	}
}

func runConfigValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	_, err := config.Load(path)
	if err == nil {
		if opts.Format == "json" {
			return out.Success(map[string]any{"file": path, "valid": true})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", path)
		return nil
	}

	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		if opts.Format == "json" {
			_ = out.Error("CONFIG", err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if opts.Format == "json" {
		_ = out.Error("CONFIG", "invalid config", verr.Fields)
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "✗ %s\n", path)
		for _, f := range verr.Fields {
			fmt.Fprintf(w, "  %s\n", f.Error())
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %d schema violation(s)", path, len(verr.Fields)))
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an annotated example config",
		Long: `Write an annotated config file holding the built-in defaults.

Example:
  opsd config init
  opsd config init /etc/opsd.yaml --force`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "opsd.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s already exists (use --force to overwrite)", path))
			}
			if err := os.WriteFile(path, []byte(config.Example), 0644); err != nil {
				return WrapExitError(ExitFailure, "failed to write config", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration commands run with: the --config file (or the
defaults), then environment overrides, then flags, as YAML. Secrets are
masked.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			mask(&cfg.SMTP.Password)
			mask(&cfg.SMS.Token)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func mask(s *string) {
	if *s != "" {
		*s = "********"
	}
}
