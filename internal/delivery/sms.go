package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
)

// SMSConfig points at an SMS gateway webhook.
type SMSConfig struct {
	WebhookURL string
	Token      string
	Timeout    time.Duration
}

// SMSSender posts one webhook request per recipient.
type SMSSender struct {
	cfg    SMSConfig
	client *http.Client
	logger *slog.Logger
}

// NewSMSSender creates a sender.
func NewSMSSender(cfg SMSConfig, logger *slog.Logger) *SMSSender {
	return &SMSSender{cfg: cfg, client: newHTTPClient(cfg.Timeout), logger: logger}
}

// Validate implements engine.Validator.
func (s *SMSSender) Validate(target model.Target) error {
	if s.cfg.WebhookURL == "" {
		return model.Validationf("sms webhook_url is not configured")
	}
	var p MessagePayload
	if err := decodePayload(target.Payload, &p); err != nil {
		return model.Validationf("%v", err)
	}
	return p.check()
}

// Execute implements engine.Executor.
func (s *SMSSender) Execute(ctx context.Context, task engine.Task) error {
	var p MessagePayload
	if err := decodePayload(task.Channel.Payload, &p); err != nil {
		return err
	}
	if err := p.check(); err != nil {
		return err
	}

	to := recipients(p.To)
	for _, number := range to {
		msg := map[string]string{"to": number, "message": p.Message}
		if err := doJSON(ctx, s.client, http.MethodPost, s.cfg.WebhookURL, s.cfg.Token, msg, nil); err != nil {
			return fmt.Errorf("send to %s: %w", number, err)
		}
	}
	s.logger.Info("sms sent", append(channelAttrs(task), "recipients", len(to))...)
	return nil
}
