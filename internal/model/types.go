package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an Operation or Channel.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRunning, StatusDone, StatusFailed}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// OperationType describes the semantics of an operation. The engine only
// uses it for routing the implicit channel to an executor.
type OperationType string

const (
	OperationSendEmail        OperationType = "send_email"
	OperationGeneratePDF      OperationType = "generate_pdf"
	OperationSendNotification OperationType = "send_notification"
	OperationSendUnifiedEmail OperationType = "send_unified_email"
)

// OperationTypes lists the accepted operation types.
var OperationTypes = []OperationType{
	OperationSendEmail,
	OperationGeneratePDF,
	OperationSendNotification,
	OperationSendUnifiedEmail,
}

// ChannelKind identifies the delivery mechanism of a Channel.
type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelWhatsApp ChannelKind = "whatsapp"
	ChannelSMS      ChannelKind = "sms"
	ChannelPDF      ChannelKind = "pdf"

	// ChannelImplicit is the single channel materialized for requests that
	// name no targets. Its executor is chosen by the operation type.
	ChannelImplicit ChannelKind = "implicit"
)

// ChannelKinds lists the accepted channel kinds.
var ChannelKinds = []ChannelKind{
	ChannelEmail,
	ChannelWhatsApp,
	ChannelSMS,
	ChannelPDF,
	ChannelImplicit,
}

// Operation is the persisted top-level record.
type Operation struct {
	ID           string          `json:"id"`
	Type         OperationType   `json:"operation_type"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	IsAsync      bool            `json:"is_async"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Channel is the persisted record of one delivery sub-task.
type Channel struct {
	ID            string          `json:"id"`
	OperationID   string          `json:"operation_id"`
	Kind          ChannelKind     `json:"channel"`
	Status        Status          `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Started reports whether the channel has begun executing at least once.
func (c Channel) Started() bool {
	return c.Status != StatusPending || c.Attempts > 0
}

// OperationView is an operation together with its channels, as returned by
// the query surface.
type OperationView struct {
	Operation
	Channels []Channel `json:"channels"`
}

// Target is one requested delivery: the channel kind plus the opaque payload
// its executor needs (recipients, html, ...).
type Target struct {
	Kind    ChannelKind     `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateRequest is the input of a submission.
//
// An empty Targets slice means the operation runs as a single implicit
// channel routed by Type; Payload is then that channel's payload and is
// otherwise ignored.
type CreateRequest struct {
	Type     OperationType   `json:"operation_type"`
	Targets  []Target        `json:"channels"`
	IsAsync  bool            `json:"is_async"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Filter narrows ListOperations. Zero values match everything.
type Filter struct {
	Status Status
	Type   OperationType
	Async  *bool
}

// Page is one offset-based page of operations.
type Page struct {
	Items    []Operation `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Pages returns the number of pages needed to list Total records.
func (p Page) Pages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
