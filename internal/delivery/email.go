package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
)

// SMTPConfig configures the email sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailPayload is the payload of an email channel and of the implicit
// channel of send_email operations.
type EmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	AttachmentSet
}

// EmailSender delivers HTML mail over SMTP, one message per recipient.
// Messages with attachments are sent as multipart/mixed.
type EmailSender struct {
	cfg      SMTPConfig
	renderer *PDFRenderer // renders pdf attachments; nil disables them
	logger   *slog.Logger
}

// NewEmailSender creates a sender.
func NewEmailSender(cfg SMTPConfig, logger *slog.Logger) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailSender{cfg: cfg, logger: logger}
}

// Validate implements engine.Validator.
func (s *EmailSender) Validate(target model.Target) error {
	if s.cfg.Host == "" {
		return model.Validationf("smtp host is not configured")
	}
	var p EmailPayload
	if err := decodePayload(target.Payload, &p); err != nil {
		return model.Validationf("%v", err)
	}
	if len(recipients(p.To)) == 0 {
		return model.Validationf("payload needs at least one recipient in \"to\"")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return model.Validationf("payload needs a non-empty \"subject\"")
	}
	return p.AttachmentSet.check(s.renderer)
}

// Execute implements engine.Executor.
func (s *EmailSender) Execute(ctx context.Context, task engine.Task) error {
	var p EmailPayload
	if err := decodePayload(task.Channel.Payload, &p); err != nil {
		return err
	}
	to := recipients(p.To)
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	atts, err := p.resolve(ctx, s.renderer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	for _, rcpt := range to {
		if err := s.send(ctx, rcpt, buildMessage(s.from(), rcpt, p, atts)); err != nil {
			return fmt.Errorf("send to %s: %w", rcpt, err)
		}
	}
	s.logger.Info("email sent", append(channelAttrs(task), "recipients", len(to), "attachments", len(atts))...)
	return nil
}

func (s *EmailSender) send(ctx context.Context, rcpt string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := s.from()
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(rcpt); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return c.Quit()
}

// from is the envelope sender: the configured From, else the username.
func (s *EmailSender) from() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.Username
}

// buildMessage renders an RFC 5322 message with CRLF line endings. The HTML
// body is the only part unless there are attachments.
func buildMessage(from, to string, p EmailPayload, atts []Attachment) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", strings.ReplaceAll(p.Subject, "\n", " ")))
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(atts) == 0 {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		b.WriteString("\r\n")
		b.WriteString(crlf(p.Body))
		b.WriteString("\r\n")
		return b.Bytes()
	}

	mw := multipart.NewWriter(&b)
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	b.WriteString("\r\n")

	body, _ := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	io.WriteString(body, crlf(p.Body)+"\r\n")

	for _, att := range atts {
		part, _ := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {partContentType(att)},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})},
			"Content-Transfer-Encoding": {"base64"},
		})
		writeBase64Lines(part, att.Data)
	}
	mw.Close()
	return b.Bytes()
}

// partContentType adds the file name to the attachment's content type.
func partContentType(att Attachment) string {
	mt, params, err := mime.ParseMediaType(att.mimeType())
	if err != nil {
		mt, params = "application/octet-stream", map[string]string{}
	}
	params["name"] = att.Filename
	return mime.FormatMediaType(mt, params)
}

// crlf normalizes line endings to CRLF.
func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// writeBase64Lines writes data base64 encoded in lines of 76 characters.
func writeBase64Lines(w io.Writer, data []byte) {
	const lineLen = 76
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > lineLen {
		io.WriteString(w, enc[:lineLen]+"\r\n")
		enc = enc[lineLen:]
	}
	io.WriteString(w, enc+"\r\n")
}
