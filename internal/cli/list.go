package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/opsd/internal/model"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Page     int
	PageSize int
	Status   string
	Type     string
	Async    bool
	Sync     bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations, newest first",
		Long: `List operations one page at a time, newest first.

Examples:
  opsd list
  opsd list --status failed --page 2 --page-size 20
  opsd list --type send_notification --async --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number (1-based)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 10, "operations per page")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only operations with this status")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only operations of this type")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "only asynchronous operations")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "only synchronous operations")
	cmd.MarkFlagsMutuallyExclusive("async", "sync")

	return cmd
}

func (o *ListOptions) filter() (model.Filter, error) {
	var f model.Filter
	if o.Status != "" {
		s, err := model.ParseStatus(o.Status)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	if o.Type != "" {
		t, err := model.ParseOperationType(o.Type)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	switch {
	case o.Async:
		async := true
		f.Async = &async
	case o.Sync:
		async := false
		f.Async = &async
	}
	return f, nil
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	filter, err := opts.filter()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	page, err := a.engine.ListOperations(commandContext(cmd), filter, opts.Page, opts.PageSize)
	if err != nil {
		if opts.Format == "json" {
			_ = out.Error(errorCode(err), err.Error(), nil)
		}
		return wrapEngineError("failed to list operations", err)
	}

	if opts.Format == "json" {
		return out.Success(page)
	}

	w := cmd.OutOrStdout()
	if len(page.Items) == 0 {
		fmt.Fprintln(w, "No operations found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tMODE\tCREATED\tSTATUS")
	for _, op := range page.Items {
		mode := "sync"
		if op.IsAsync {
			mode = "async"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			op.ID, op.Type, mode, op.CreatedAt.UTC().Format(time.RFC3339), statusText(op.Status))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nPage %d of %d (%d total)\n", page.Page, page.Pages(), page.Total)
	return nil
}
