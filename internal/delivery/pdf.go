package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
)

// Page orientations.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Margins are page margins in inches.
type Margins struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// Presets maps the accepted page_size_preset names to portrait sizes.
var Presets = map[string]PaperSize{
	"A4":      {Width: 8.27, Height: 11.69},
	"LETTER":  {Width: 8.5, Height: 11},
	"LEGAL":   {Width: 8.5, Height: 14},
	"A3":      {Width: 11.69, Height: 16.54},
	"TABLOID": {Width: 11, Height: 17},
}

// PDFConfig configures the PDF renderer.
type PDFConfig struct {
	RendererPath string
	ChromePath   string
	OutputDir    string
	Orientation  string
	Size         PaperSize
	Margins      Margins
	Timeout      time.Duration
}

// DefaultPDFConfig returns portrait US letter with half-inch margins.
func DefaultPDFConfig() PDFConfig {
	return PDFConfig{
		RendererPath: "pdf-renderer",
		ChromePath:   "/usr/bin/chromium",
		OutputDir:    "output",
		Orientation:  OrientationPortrait,
		Size:         PaperSize{Width: 8.5, Height: 11},
		Margins:      Margins{Top: 0.5, Bottom: 0.5, Left: 0.5, Right: 0.5},
		Timeout:      60 * time.Second,
	}
}

// PDFPayload is the payload of a pdf channel and of the implicit channel of
// generate_pdf operations.
type PDFPayload struct {
	FileName    string     `json:"file_name,omitempty"`
	HTML        string     `json:"html"`
	Orientation string     `json:"orientation,omitempty"`
	Preset      string     `json:"page_size_preset,omitempty"`
	CustomSize  *PaperSize `json:"custom_page_size,omitempty"`
	Margins     *Margins   `json:"margins,omitempty"`
}

// renderRequest is what the renderer binary receives, JSON then base64
// encoded, as its only argument.
type renderRequest struct {
	ChromePath  string    `json:"chrome_path"`
	Orientation string    `json:"orientation"`
	PaperSize   PaperSize `json:"paper_size"`
	Margins     Margins   `json:"margins"`
	HTML        string    `json:"html_content"`
}

// PDFRenderer renders HTML to PDF by running an external renderer binary
// that prints the document, base64 encoded, on stdout.
type PDFRenderer struct {
	cfg    PDFConfig
	logger *slog.Logger
}

// NewPDFRenderer creates a renderer.
func NewPDFRenderer(cfg PDFConfig, logger *slog.Logger) *PDFRenderer {
	return &PDFRenderer{cfg: cfg, logger: logger}
}

// Validate implements engine.Validator.
func (r *PDFRenderer) Validate(target model.Target) error {
	var p PDFPayload
	if err := decodePayload(target.Payload, &p); err != nil {
		return model.Validationf("%v", err)
	}
	_, err := r.request(p)
	return err
}

// Execute implements engine.Executor.
func (r *PDFRenderer) Execute(ctx context.Context, task engine.Task) error {
	var p PDFPayload
	if err := decodePayload(task.Channel.Payload, &p); err != nil {
		return err
	}
	req, err := r.request(p)
	if err != nil {
		return err
	}

	pdf, err := r.render(ctx, req)
	if err != nil {
		return err
	}

	path, err := r.write(task, p.FileName, pdf)
	if err != nil {
		return err
	}
	r.logger.Info("pdf generated", append(channelAttrs(task), "path", path, "bytes", len(pdf))...)
	return nil
}

// request resolves page size, orientation and margins against the defaults.
func (r *PDFRenderer) request(p PDFPayload) (renderRequest, error) {
	if strings.TrimSpace(p.HTML) == "" {
		return renderRequest{}, model.Validationf("payload needs a non-empty \"html\"")
	}

	orientation := strings.ToLower(strings.TrimSpace(p.Orientation))
	if orientation == "" {
		orientation = r.cfg.Orientation
	}
	if orientation != OrientationPortrait && orientation != OrientationLandscape {
		return renderRequest{}, model.Validationf("unknown orientation %q", p.Orientation)
	}

	size := r.cfg.Size
	switch {
	case p.Preset != "":
		preset, ok := Presets[strings.ToUpper(strings.TrimSpace(p.Preset))]
		if !ok {
			return renderRequest{}, model.Validationf("unknown page_size_preset %q", p.Preset)
		}
		size = preset
	case p.CustomSize != nil:
		if p.CustomSize.Width <= 0 || p.CustomSize.Height <= 0 {
			return renderRequest{}, model.Validationf("custom_page_size must be positive")
		}
		size = *p.CustomSize
	}
	if orientation == OrientationLandscape {
		size.Width, size.Height = size.Height, size.Width
	}

	margins := r.cfg.Margins
	if p.Margins != nil {
		margins = *p.Margins
	}

	return renderRequest{
		ChromePath:  r.cfg.ChromePath,
		Orientation: orientation,
		PaperSize:   size,
		Margins:     margins,
		HTML:        p.HTML,
	}, nil
}

func (r *PDFRenderer) render(ctx context.Context, req renderRequest) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.RendererPath, base64.StdEncoding.EncodeToString(raw))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("run renderer: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("run renderer: %w", err)
	}

	pdf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stdout.String()))
	if err != nil {
		return nil, fmt.Errorf("decode renderer output: %w", err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("renderer produced an empty document")
	}
	return pdf, nil
}

// write stores the document under OutputDir. Without a file name the
// channel id names the file, so a retried attempt overwrites its own output.
func (r *PDFRenderer) write(task engine.Task, name string, pdf []byte) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = task.Channel.ID + ".pdf"
	}
	if filepath.Ext(name) == "" {
		name += ".pdf"
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(r.cfg.OutputDir, name)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return path, nil
}
