package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opsd/internal/model"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())

	cause := errors.New("cause")
	err := WrapExitError(ExitFailure, "outer", cause)
	assert.Equal(t, "outer: cause", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.Validationf("bad request"), ExitCommandError},
		{model.NotFoundf("no such operation"), ExitCommandError},
		{model.Conflictf("already done"), ExitCommandError},
		{model.StoreError("insert", errors.New("disk full")), ExitFailure},
		{errors.New("plain"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
			assert.Equal(t, tt.want, GetExitCode(wrapEngineError("msg", tt.err)))
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", errorCode(model.NotFoundf("x")))
	assert.Equal(t, "ERROR", errorCode(errors.New("x")))
}

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]int{"n": 1}))
	require.NoError(t, f.Error("VALIDATION", "bad", nil))

	dec := json.NewDecoder(buf)
	var ok, bad CLIResponse
	require.NoError(t, dec.Decode(&ok))
	require.NoError(t, dec.Decode(&bad))

	assert.Equal(t, "ok", ok.Status)
	assert.Nil(t, ok.Error)
	assert.Equal(t, "error", bad.Status)
	require.NotNil(t, bad.Error)
	assert.Equal(t, "VALIDATION", bad.Error.Code)
	assert.Equal(t, "bad", bad.Error.Message)
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, f.Error("NOT_FOUND", "no such operation", "id=x"))
	assert.Equal(t, "Error [NOT_FOUND]: no such operation\nDetails: id=x\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}

	f.VerboseLog("hidden %d", 1)
	assert.Empty(t, diag.String())

	f.Verbose = true
	f.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", diag.String())
	assert.Empty(t, out.String())

	f.ErrWriter = nil
	assert.Equal(t, out, f.GetErrWriter())
}

func TestWriteOperation(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	view := &model.OperationView{
		Operation: model.Operation{
			ID:           "op-1",
			Type:         model.OperationSendNotification,
			Status:       model.StatusFailed,
			ErrorMessage: "sms: carrier down",
			IsAsync:      true,
			Metadata:     []byte(`{"ref":"A1"}`),
			CreatedAt:    ts,
			UpdatedAt:    ts,
		},
		Channels: []model.Channel{
			{ID: "c1", Kind: model.ChannelEmail, Status: model.StatusDone, Attempts: 1},
			{ID: "c2", Kind: model.ChannelSMS, Status: model.StatusFailed, Attempts: 3, ErrorMessage: "carrier down"},
			{ID: "c3", Kind: model.ChannelWhatsApp, Status: model.StatusPending, Attempts: 1, NextAttemptAt: ts},
		},
	}

	buf := &bytes.Buffer{}
	writeOperation(buf, view)
	out := buf.String()

	assert.Contains(t, out, "Operation op-1\n")
	assert.Contains(t, out, "type:    send_notification (async)")
	assert.Contains(t, out, "status:  failed")
	assert.Contains(t, out, "error:   sms: carrier down")
	assert.Contains(t, out, `meta:    {"ref":"A1"}`)
	assert.Contains(t, out, "created: 2026-01-02T03:04:05Z")
	assert.Contains(t, out, "channels (3):")
	assert.Contains(t, out, "error=carrier down")
	assert.Contains(t, out, "next=2026-01-02T03:04:05Z")
}
