// Package config loads opsd configuration from YAML files.
//
// A file is first checked against an embedded CUE schema, so typos and
// out-of-range values are reported with their path, and then decoded over
// Default(). Fields absent from the file keep their defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/opsd/internal/delivery"
	"github.com/roach88/opsd/internal/engine"
)

// Config is the full opsd configuration.
type Config struct {
	Database     string         `yaml:"database"`
	Workers      int            `yaml:"workers"`
	PollInterval Duration       `yaml:"poll_interval"`
	BatchSize    int            `yaml:"batch_size"`
	Retry        RetryConfig    `yaml:"retry"`
	Log          LogConfig      `yaml:"log"`
	PDF          PDFConfig      `yaml:"pdf"`
	SMTP         SMTPConfig     `yaml:"smtp"`
	WhatsApp     WhatsAppConfig `yaml:"whatsapp"`
	SMS          SMSConfig      `yaml:"sms"`
}

// RetryConfig bounds channel attempts.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PDFConfig configures the PDF renderer. Sizes and margins are in inches.
type PDFConfig struct {
	RendererPath       string   `yaml:"renderer_path"`
	ChromePath         string   `yaml:"chrome_path"`
	OutputDir          string   `yaml:"output_dir"`
	DefaultOrientation string   `yaml:"default_orientation"`
	DefaultWidth       float64  `yaml:"default_width"`
	DefaultHeight      float64  `yaml:"default_height"`
	DefaultMarginTop   float64  `yaml:"default_margin_top"`
	DefaultMarginBot   float64  `yaml:"default_margin_bottom"`
	DefaultMarginLeft  float64  `yaml:"default_margin_left"`
	DefaultMarginRight float64  `yaml:"default_margin_right"`
	Timeout            Duration `yaml:"timeout"`
}

// SMTPConfig configures outgoing mail.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	Timeout  Duration `yaml:"timeout"`
}

// WhatsAppConfig points at the WhatsApp gateway.
type WhatsAppConfig struct {
	APIURL    string   `yaml:"api_url"`
	SessionID string   `yaml:"session_id"`
	Timeout   Duration `yaml:"timeout"`
}

// SMSConfig points at the SMS webhook.
type SMSConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Token      string   `yaml:"token"`
	Timeout    Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	pdf := delivery.DefaultPDFConfig()
	return Config{
		Database:     "opsd.db",
		Workers:      engine.DefaultWorkers,
		PollInterval: Duration(engine.DefaultPollInterval),
		BatchSize:    engine.DefaultBatchSize,
		Retry: RetryConfig{
			MaxAttempts: engine.DefaultMaxAttempts,
			BaseDelay:   Duration(engine.DefaultBaseDelay),
			MaxDelay:    Duration(engine.DefaultMaxDelay),
		},
		Log: LogConfig{Level: "info", Format: "text"},
		PDF: PDFConfig{
			RendererPath:       pdf.RendererPath,
			ChromePath:         pdf.ChromePath,
			OutputDir:          pdf.OutputDir,
			DefaultOrientation: pdf.Orientation,
			DefaultWidth:       pdf.Size.Width,
			DefaultHeight:      pdf.Size.Height,
			DefaultMarginTop:   pdf.Margins.Top,
			DefaultMarginBot:   pdf.Margins.Bottom,
			DefaultMarginLeft:  pdf.Margins.Left,
			DefaultMarginRight: pdf.Margins.Right,
			Timeout:            Duration(pdf.Timeout),
		},
		SMTP: SMTPConfig{Port: 587, Timeout: Duration(30 * time.Second)},
	}
}

// Load reads, validates and decodes the file at path over Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes YAML config data over Default().
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides endpoint settings and secrets from the environment.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Database, "OPSD_DATABASE")
	set(&c.SMTP.Password, "SMTP_PASSWORD")
	set(&c.WhatsApp.APIURL, "WHATSAPP_API_URL")
	set(&c.WhatsApp.SessionID, "WHATSAPP_API_SESSION_ID")
	set(&c.SMS.Token, "SMS_TOKEN")
	set(&c.PDF.ChromePath, "CHROME_PATH")
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelay),
		MaxDelay:    time.Duration(c.Retry.MaxDelay),
	}
}

// EngineOptions returns the engine options the file controls.
func (c Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithPolicy(c.RetryPolicy()),
		engine.WithWorkers(c.Workers),
		engine.WithPollInterval(time.Duration(c.PollInterval)),
		engine.WithBatchSize(c.BatchSize),
	}
}

// Delivery converts the executor sections.
func (c Config) Delivery() delivery.Config {
	return delivery.Config{
		PDF: delivery.PDFConfig{
			RendererPath: c.PDF.RendererPath,
			ChromePath:   c.PDF.ChromePath,
			OutputDir:    c.PDF.OutputDir,
			Orientation:  c.PDF.DefaultOrientation,
			Size:         delivery.PaperSize{Width: c.PDF.DefaultWidth, Height: c.PDF.DefaultHeight},
			Margins: delivery.Margins{
				Top:    c.PDF.DefaultMarginTop,
				Bottom: c.PDF.DefaultMarginBot,
				Left:   c.PDF.DefaultMarginLeft,
				Right:  c.PDF.DefaultMarginRight,
			},
			Timeout: time.Duration(c.PDF.Timeout),
		},
		SMTP: delivery.SMTPConfig{
			Host:     c.SMTP.Host,
			Port:     c.SMTP.Port,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password,
			From:     c.SMTP.From,
			Timeout:  time.Duration(c.SMTP.Timeout),
		},
		WhatsApp: delivery.WhatsAppConfig{
			APIURL:    c.WhatsApp.APIURL,
			SessionID: c.WhatsApp.SessionID,
			Timeout:   time.Duration(c.WhatsApp.Timeout),
		},
		SMS: delivery.SMSConfig{
			WebhookURL: c.SMS.WebhookURL,
			Token:      c.SMS.Token,
			Timeout:    time.Duration(c.SMS.Timeout),
		},
	}
}

// LogLevel maps Log.Level to a slog level. Unknown names mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"1s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// String returns the duration in Go syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}
