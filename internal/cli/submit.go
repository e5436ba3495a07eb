package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/opsd/internal/model"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Type     string
	Channels []string
	Payload  string
	Metadata string
	Async    bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an operation",
		Long: `Submit an operation made of one or more delivery channels.

Each --channel is KIND, KIND=JSON or KIND=@FILE, where the JSON is the
channel's payload. Without --channel the operation runs as a single
implicit channel whose payload is --payload.

A synchronous submission runs every channel (with retries) before the
command returns and exits 1 if the operation failed. With --async the
records are persisted and the command returns immediately; run
'opsd serve' or 'opsd resume' to execute them.

Examples:
  opsd submit --type send_notification \
    --channel 'sms={"to":["+15550100"],"message":"hi"}' \
    --channel whatsapp=@wa.json
  opsd submit --type generate_pdf --payload @invoice.json
  opsd submit --type send_email --async --payload '{"to":["a@b.c"],"subject":"s","body":"b"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "operation type (required)")
	cmd.Flags().StringArrayVar(&opts.Channels, "channel", nil, "channel as KIND, KIND=JSON or KIND=@FILE (repeatable)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "implicit channel payload as JSON or @FILE")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "operation metadata as JSON or @FILE")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "persist and return without executing")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	req, err := opts.request()
	if err != nil {
		return err
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	out := opts.formatter(cmd)
	h, err := a.engine.Submit(ctx, req)
	if err != nil {
		if opts.Format == "json" {
			_ = out.Error(errorCode(err), err.Error(), nil)
		}
		return wrapEngineError("submit failed", err)
	}

	view, err := a.engine.GetOperation(ctx, h.OperationID)
	if err != nil {
		return wrapEngineError("failed to read operation", err)
	}

	if opts.Format != "json" {
		if h.Async {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ operation queued: %s\n", view.ID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ operation created: %s\n", view.ID)
		}
	}
	if err := out.Operation(view); err != nil {
		return err
	}

	if view.Status == model.StatusFailed {
		return NewExitError(ExitFailure, fmt.Sprintf("operation %s failed: %s", view.ID, view.ErrorMessage))
	}
	return nil
}

// request builds the engine request from the flags.
func (o *SubmitOptions) request() (model.CreateRequest, error) {
	req := model.CreateRequest{
		Type:    model.OperationType(o.Type),
		IsAsync: o.Async,
	}

	var err error
	if req.Payload, err = readJSONArg(o.Payload); err != nil {
		return req, WrapExitError(ExitCommandError, "invalid --payload", err)
	}
	if req.Metadata, err = readJSONArg(o.Metadata); err != nil {
		return req, WrapExitError(ExitCommandError, "invalid --metadata", err)
	}
	for _, spec := range o.Channels {
		target, err := parseTarget(spec)
		if err != nil {
			return req, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --channel %q", spec), err)
		}
		req.Targets = append(req.Targets, target)
	}
	return req, nil
}

// parseTarget parses KIND, KIND=JSON or KIND=@FILE.
func parseTarget(spec string) (model.Target, error) {
	kind, value, hasPayload := strings.Cut(spec, "=")
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return model.Target{}, fmt.Errorf("missing channel kind")
	}
	target := model.Target{Kind: model.ChannelKind(kind)}
	if !hasPayload {
		return target, nil
	}
	payload, err := readJSONArg(value)
	if err != nil {
		return target, err
	}
	if payload == nil {
		return target, fmt.Errorf("empty payload after '='")
	}
	target.Payload = payload
	return target, nil
}

// readJSONArg returns the JSON in v, or in the file it names with a
// leading '@'. An empty v yields nil.
func readJSONArg(v string) (json.RawMessage, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	data := []byte(v)
	if strings.HasPrefix(v, "@") {
		var err error
		if data, err = os.ReadFile(v[1:]); err != nil {
			return nil, err
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("not valid JSON")
	}
	return json.RawMessage(data), nil
}
