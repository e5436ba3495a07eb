// Package delivery holds the channel executors that perform the actual
// side effects of an operation: rendering PDFs, sending email, and posting
// WhatsApp and SMS messages.
//
// Every executor implements engine.Executor and engine.Validator. Payloads
// are the opaque JSON stored on each channel; executors decode them on every
// attempt so retries after a restart see exactly what was submitted.
package delivery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
)

// Config groups the settings of every executor.
type Config struct {
	PDF      PDFConfig
	SMTP     SMTPConfig
	WhatsApp WhatsAppConfig
	SMS      SMSConfig
}

// DefaultConfig returns a Config with PDF defaults and no remote endpoints.
func DefaultConfig() Config {
	return Config{PDF: DefaultPDFConfig()}
}

// Register installs the executors into reg.
//
// Channel kinds map one to one. The implicit channel of generate_pdf
// renders a PDF; send_email and send_unified_email send email. Email and
// WhatsApp render their pdf attachments with the same renderer.
func Register(reg *engine.Registry, cfg Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	pdf := NewPDFRenderer(cfg.PDF, logger)
	email := NewEmailSender(cfg.SMTP, logger)
	email.renderer = pdf
	wa := NewWhatsAppSender(cfg.WhatsApp, logger)
	wa.renderer = pdf
	sms := NewSMSSender(cfg.SMS, logger)

	reg.RegisterChannel(model.ChannelPDF, pdf)
	reg.RegisterChannel(model.ChannelEmail, email)
	reg.RegisterChannel(model.ChannelWhatsApp, wa)
	reg.RegisterChannel(model.ChannelSMS, sms)

	reg.RegisterOperation(model.OperationGeneratePDF, pdf)
	reg.RegisterOperation(model.OperationSendEmail, email)
	reg.RegisterOperation(model.OperationSendUnifiedEmail, email)
}

// MessagePayload is the payload of sms channels.
type MessagePayload struct {
	To      []string `json:"to"`
	Message string   `json:"message"`
}

func (p MessagePayload) check() error {
	if len(recipients(p.To)) == 0 {
		return model.Validationf("payload needs at least one recipient in \"to\"")
	}
	if strings.TrimSpace(p.Message) == "" {
		return model.Validationf("payload needs a non-empty \"message\"")
	}
	return nil
}

// decodePayload unmarshals a channel or target payload into v. An empty
// payload decodes as the zero value.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// recipients drops blank entries and surrounding whitespace.
func recipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// channelAttrs returns the log attributes identifying an attempt.
func channelAttrs(task engine.Task) []any {
	return []any{
		"operation_id", task.Operation.ID,
		"channel_id", task.Channel.ID,
		"channel", task.Channel.Kind,
		"attempt", task.Attempt(),
	}
}
