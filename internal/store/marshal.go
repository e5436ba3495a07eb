package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/opsd/internal/model"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const operationColumns = `id, operation_type, status, error_message, is_async, created_at, updated_at, metadata`

const channelColumns = `id, operation_id, channel, status, error_message, attempts, payload, next_attempt_at, created_at, updated_at`

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// nullJSON stores an empty raw message as NULL.
func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func scanOperation(row rowScanner) (model.Operation, error) {
	var (
		op               model.Operation
		created, updated int64
		metadata         sql.NullString
		opType, opStatus string
	)
	err := row.Scan(&op.ID, &opType, &opStatus, &op.ErrorMessage, &op.IsAsync, &created, &updated, &metadata)
	if err != nil {
		return model.Operation{}, err
	}
	op.Type = model.OperationType(opType)
	op.Status = model.Status(opStatus)
	op.CreatedAt = fromNanos(created)
	op.UpdatedAt = fromNanos(updated)
	op.Metadata = rawJSON(metadata)
	return op, nil
}

func scanChannel(row rowScanner) (model.Channel, error) {
	var (
		ch                       model.Channel
		nextAt, created, updated int64
		payload                  sql.NullString
		kind, status             string
	)
	err := row.Scan(&ch.ID, &ch.OperationID, &kind, &status, &ch.ErrorMessage, &ch.Attempts,
		&payload, &nextAt, &created, &updated)
	if err != nil {
		return model.Channel{}, err
	}
	ch.Kind = model.ChannelKind(kind)
	ch.Status = model.Status(status)
	ch.Payload = rawJSON(payload)
	ch.NextAttemptAt = fromNanos(nextAt)
	ch.CreatedAt = fromNanos(created)
	ch.UpdatedAt = fromNanos(updated)
	return ch, nil
}

// touch returns the updated_at for a mutation: now, clamped so it never
// decreases and never precedes created_at.
func touch(now, prev, created time.Time) time.Time {
	t := now
	if prev.After(t) {
		t = prev
	}
	if created.After(t) {
		t = created
	}
	return t
}

// classify maps driver constraint violations onto the error taxonomy and
// wraps everything else as a STORE error.
func classify(action string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return &model.Error{Code: model.CodeConflict, Message: action + ": duplicate id", Err: err}
		case sqlite3.ErrConstraintForeignKey:
			return &model.Error{Code: model.CodeNotFound, Message: action + ": unknown operation", Err: err}
		}
		return &model.Error{Code: model.CodeValidation, Message: action, Err: err}
	}
	return model.StoreError(action, err)
}

// withTx runs fn in a transaction. fn must only use tx: the pool holds a
// single connection.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.StoreError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.StoreError("commit transaction", err)
	}
	return nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func errRows(action string, err error) error {
	return model.StoreError(fmt.Sprintf("iterate %s", action), err)
}
