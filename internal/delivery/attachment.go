package delivery

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/roach88/opsd/internal/model"
)

// defaultPDFName names a rendered attachment whose payload gives no name.
const defaultPDFName = "document.pdf"

// Attachment is a file sent with an email or WhatsApp message. Data is
// base64 in JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

func (a Attachment) check() error {
	if strings.TrimSpace(a.Filename) == "" {
		return model.Validationf("attachment needs a \"filename\"")
	}
	if len(a.Data) == 0 {
		return model.Validationf("attachment %q has no data", a.Filename)
	}
	if a.ContentType != "" {
		if _, _, err := mime.ParseMediaType(a.ContentType); err != nil {
			return model.Validationf("attachment %q: bad content_type %q", a.Filename, a.ContentType)
		}
	}
	return nil
}

// mimeType is the declared content type, else a guess from the file
// extension.
func (a Attachment) mimeType() string {
	if a.ContentType != "" {
		return a.ContentType
	}
	if t := mime.TypeByExtension(filepath.Ext(a.Filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// AttachmentSet is the attachment section shared by email and WhatsApp
// payloads. PDF, when set, is rendered on every attempt and sent first,
// named by its file_name.
type AttachmentSet struct {
	Attachments []Attachment `json:"attachments,omitempty"`
	PDF         *PDFPayload  `json:"pdf,omitempty"`
}

func (a AttachmentSet) empty() bool {
	return len(a.Attachments) == 0 && a.PDF == nil
}

// check validates every attachment. renderer may be nil, in which case a
// PDF attachment is rejected.
func (a AttachmentSet) check(renderer *PDFRenderer) error {
	for _, att := range a.Attachments {
		if err := att.check(); err != nil {
			return err
		}
	}
	if a.PDF == nil {
		return nil
	}
	if renderer == nil {
		return model.Validationf("pdf attachments are not supported by this sender")
	}
	if _, err := renderer.request(*a.PDF); err != nil {
		return fmt.Errorf("pdf attachment: %w", err)
	}
	return nil
}

// resolve renders the PDF attachment, if any, and returns the full list in
// send order.
func (a AttachmentSet) resolve(ctx context.Context, renderer *PDFRenderer) ([]Attachment, error) {
	if a.PDF == nil {
		return a.Attachments, nil
	}
	if renderer == nil {
		return nil, fmt.Errorf("pdf attachments are not supported by this sender")
	}
	req, err := renderer.request(*a.PDF)
	if err != nil {
		return nil, err
	}
	doc, err := renderer.render(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("render pdf attachment: %w", err)
	}

	name := filepath.Base(strings.TrimSpace(a.PDF.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = defaultPDFName
	}
	if filepath.Ext(name) == "" {
		name += ".pdf"
	}

	out := make([]Attachment, 0, len(a.Attachments)+1)
	out = append(out, Attachment{Filename: name, ContentType: "application/pdf", Data: doc})
	return append(out, a.Attachments...), nil
}
