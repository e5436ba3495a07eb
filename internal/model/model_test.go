package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want OperationType
	}{
		{"send_email", OperationSendEmail},
		{"  Generate_PDF ", OperationGeneratePDF},
		{"send-notification", OperationSendNotification},
		// full-width letters fold under NFKC
		{"ｓｅｎｄ_ｅｍａｉｌ", OperationSendEmail},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOperationType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseOperationType("fax")
	assert.ErrorIs(t, err, ErrValidation)

	kind, err := ParseChannelKind("WhatsApp")
	require.NoError(t, err)
	assert.Equal(t, ChannelWhatsApp, kind)

	_, err = ParseChannelKind("pigeon")
	assert.ErrorIs(t, err, ErrValidation)

	st, err := ParseStatus("DONE")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, st)
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("get operation: %w", NotFoundf("operation %s not found", "abc"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "NOT_FOUND: operation abc not found")

	cause := errors.New("disk full")
	wrapped := StoreError("insert operation", cause)
	assert.ErrorIs(t, wrapped, ErrStore)
	assert.ErrorIs(t, wrapped, cause)
}

func TestCreateRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr string
	}{
		{
			name: "implicit channel",
			req:  CreateRequest{Type: OperationGeneratePDF},
		},
		{
			name: "targets",
			req: CreateRequest{
				Type: OperationSendNotification,
				Targets: []Target{
					{Kind: ChannelEmail, Payload: json.RawMessage(`{"to":["a@example.com"]}`)},
					{Kind: "SMS"},
				},
			},
		},
		{
			name:    "unknown type",
			req:     CreateRequest{Type: "fax"},
			wantErr: "unknown operation type",
		},
		{
			name:    "unknown channel",
			req:     CreateRequest{Type: OperationSendEmail, Targets: []Target{{Kind: "pigeon"}}},
			wantErr: "channels[0]: unknown channel",
		},
		{
			name:    "explicit implicit",
			req:     CreateRequest{Type: OperationSendEmail, Targets: []Target{{Kind: ChannelImplicit}}},
			wantErr: "cannot be requested explicitly",
		},
		{
			name:    "bad payload",
			req:     CreateRequest{Type: OperationSendEmail, Targets: []Target{{Kind: ChannelEmail, Payload: json.RawMessage(`{`)}}},
			wantErr: "payload is not valid JSON",
		},
		{
			name:    "bad metadata",
			req:     CreateRequest{Type: OperationSendEmail, Metadata: json.RawMessage(`nope`)},
			wantErr: "metadata is not valid JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalized(t *testing.T) {
	req := CreateRequest{Type: " SEND_EMAIL", Targets: []Target{{Kind: "Email"}}}
	got := req.Normalized()
	assert.Equal(t, OperationSendEmail, got.Type)
	assert.Equal(t, ChannelEmail, got.Targets[0].Kind)
	assert.Equal(t, ChannelKind("Email"), req.Targets[0].Kind, "original untouched")
}

func TestPagePages(t *testing.T) {
	assert.Equal(t, 3, Page{Total: 25, PageSize: 10}.Pages())
	assert.Equal(t, 2, Page{Total: 20, PageSize: 10}.Pages())
	assert.Equal(t, 0, Page{Total: 0, PageSize: 10}.Pages())
}
