package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
)

// WhatsAppConfig points at a WhatsApp web API gateway session.
type WhatsAppConfig struct {
	APIURL    string
	SessionID string
	Timeout   time.Duration
}

// WhatsAppPayload is the payload of a whatsapp channel. The message may be
// left empty when there are attachments.
type WhatsAppPayload struct {
	To      []string `json:"to"`
	Message string   `json:"message,omitempty"`
	AttachmentSet
}

func (p WhatsAppPayload) check(renderer *PDFRenderer) error {
	if len(recipients(p.To)) == 0 {
		return model.Validationf("payload needs at least one recipient in \"to\"")
	}
	if strings.TrimSpace(p.Message) == "" && p.AttachmentSet.empty() {
		return model.Validationf("payload needs a non-empty \"message\" or attachments")
	}
	return p.AttachmentSet.check(renderer)
}

// WhatsAppSender posts messages through a WhatsApp gateway after checking
// that its session is connected: the text first, then each attachment as
// a media message.
type WhatsAppSender struct {
	cfg      WhatsAppConfig
	client   *http.Client
	renderer *PDFRenderer
	logger   *slog.Logger
}

// mediaContent is the content of a MessageMedia post.
type mediaContent struct {
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

// NewWhatsAppSender creates a sender.
func NewWhatsAppSender(cfg WhatsAppConfig, logger *slog.Logger) *WhatsAppSender {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &WhatsAppSender{cfg: cfg, client: newHTTPClient(cfg.Timeout), logger: logger}
}

// Validate implements engine.Validator.
func (s *WhatsAppSender) Validate(target model.Target) error {
	if s.cfg.APIURL == "" || s.cfg.SessionID == "" {
		return model.Validationf("whatsapp api_url and session_id are not configured")
	}
	var p WhatsAppPayload
	if err := decodePayload(target.Payload, &p); err != nil {
		return model.Validationf("%v", err)
	}
	return p.check(s.renderer)
}

// Execute implements engine.Executor.
func (s *WhatsAppSender) Execute(ctx context.Context, task engine.Task) error {
	var p WhatsAppPayload
	if err := decodePayload(task.Channel.Payload, &p); err != nil {
		return err
	}
	if err := p.check(s.renderer); err != nil {
		return err
	}
	atts, err := p.resolve(ctx, s.renderer)
	if err != nil {
		return err
	}

	if err := s.checkSession(ctx); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/client/sendMessage/%s", s.cfg.APIURL, s.cfg.SessionID)
	to := recipients(p.To)
	if strings.TrimSpace(p.Message) != "" {
		for _, chatID := range to {
			msg := map[string]any{
				"chatId":      chatID,
				"contentType": "string",
				"content":     p.Message,
			}
			if err := doJSON(ctx, s.client, http.MethodPost, url, "", msg, nil); err != nil {
				return fmt.Errorf("send to %s: %w", chatID, err)
			}
		}
	}
	for _, att := range atts {
		content := mediaContent{
			MimeType: att.mimeType(),
			Data:     base64.StdEncoding.EncodeToString(att.Data),
			Filename: att.Filename,
		}
		for _, chatID := range to {
			msg := map[string]any{
				"chatId":      chatID,
				"contentType": "MessageMedia",
				"content":     content,
			}
			if err := doJSON(ctx, s.client, http.MethodPost, url, "", msg, nil); err != nil {
				return fmt.Errorf("send %s to %s: %w", att.Filename, chatID, err)
			}
		}
	}
	s.logger.Info("whatsapp sent", append(channelAttrs(task), "recipients", len(to), "attachments", len(atts))...)
	return nil
}

func (s *WhatsAppSender) checkSession(ctx context.Context) error {
	url := fmt.Sprintf("%s/session/status/%s", s.cfg.APIURL, s.cfg.SessionID)
	var status struct {
		State string `json:"state"`
	}
	if err := doJSON(ctx, s.client, http.MethodGet, url, "", nil, &status); err != nil {
		return fmt.Errorf("session status: %w", err)
	}
	if status.State != "CONNECTED" {
		return fmt.Errorf("whatsapp session %s is not connected (state %q)", s.cfg.SessionID, status.State)
	}
	return nil
}
