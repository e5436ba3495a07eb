package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opsd/internal/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "opsd.db", cfg.Database)
	assert.Equal(t, engine.DefaultRetryPolicy(), cfg.RetryPolicy())
	assert.Equal(t, engine.DefaultWorkers, cfg.Workers)
	assert.Equal(t, "portrait", cfg.PDF.DefaultOrientation)
	assert.Equal(t, 8.5, cfg.PDF.DefaultWidth)
	assert.Equal(t, 11.0, cfg.PDF.DefaultHeight)
	assert.Equal(t, 0.5, cfg.PDF.DefaultMarginTop)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/opsd/ops.db
workers: 8
poll_interval: 250ms
retry:
  max_attempts: 5
  base_delay: 2s
log:
  level: debug
  format: json
pdf:
  default_orientation: landscape
  default_width: 8
smtp:
  host: smtp.example.com
  from: ops@example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/opsd/ops.db", cfg.Database)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.PollInterval))
	assert.Equal(t, engine.RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}, cfg.RetryPolicy())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)

	d := cfg.Delivery()
	assert.Equal(t, "landscape", d.PDF.Orientation)
	assert.Equal(t, 8.0, d.PDF.Size.Width)
	assert.Equal(t, 11.0, d.PDF.Size.Height, "unset fields keep defaults")
	assert.Equal(t, "smtp.example.com", d.SMTP.Host)
	assert.Equal(t, 587, d.SMTP.Port)
	assert.Equal(t, 30*time.Second, d.SMTP.Timeout)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Example(t *testing.T) {
	cfg, err := Parse([]byte(Example))
	require.NoError(t, err)
	assert.Equal(t, Default().RetryPolicy(), cfg.RetryPolicy())
	assert.Equal(t, Default().PDF, cfg.PDF)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "wrokers: 4\n", "wrokers"},
		{"workers below minimum", "workers: 0\n", "workers"},
		{"bad duration", "poll_interval: soon\n", "poll_interval"},
		{"numeric duration", "retry:\n  base_delay: 5\n", "base_delay"},
		{"max attempts", "retry:\n  max_attempts: 0\n", "max_attempts"},
		{"log level", "log:\n  level: loud\n", "level"},
		{"orientation", "pdf:\n  default_orientation: diagonal\n", "default_orientation"},
		{"negative margin", "pdf:\n  default_margin_top: -1\n", "default_margin_top"},
		{"port range", "smtp:\n  port: 70000\n", "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %T: %v", err, err)
			require.NotEmpty(t, verr.Fields)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("workers: [1,\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_ErrorNamesFile(t *testing.T) {
	path := writeConfig(t, "workers: -1\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WHATSAPP_API_URL":        "http://gw:3000",
		"WHATSAPP_API_SESSION_ID": "main",
		"SMTP_PASSWORD":           "hunter2",
		"SMS_TOKEN":               "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.SMS.Token = "from-file"
	cfg.ApplyEnv(lookup)

	assert.Equal(t, "http://gw:3000", cfg.WhatsApp.APIURL)
	assert.Equal(t, "main", cfg.WhatsApp.SessionID)
	assert.Equal(t, "hunter2", cfg.SMTP.Password)
	assert.Equal(t, "from-file", cfg.SMS.Token, "empty env values do not override")
	assert.Equal(t, "opsd.db", cfg.Database)
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 7
	assert.Len(t, cfg.EngineOptions(), 4)
	assert.Equal(t, 7, cfg.RetryPolicy().MaxAttempts)
}

func TestDurationYAML(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", out)
	assert.Equal(t, "1.5s", d.String())
}
