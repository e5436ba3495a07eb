package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/statemachine"
)

// CreateOperation inserts a new operation and returns its id.
// Zero timestamps are filled from the store clock.
func (s *Store) CreateOperation(ctx context.Context, op model.Operation) (string, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertOperation(ctx, tx, &op)
	})
	if err != nil {
		return "", err
	}
	return op.ID, nil
}

// CreateChannel inserts a channel under an existing, non-terminal operation
// and returns its id.
func (s *Store) CreateChannel(ctx context.Context, ch model.Channel) (string, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		op, err := getOperation(ctx, tx, ch.OperationID)
		if err != nil {
			return err
		}
		if op.Status.IsTerminal() {
			return model.Conflictf("operation %s is already %s", op.ID, op.Status)
		}
		return s.insertChannel(ctx, tx, &ch)
	})
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

// CreateOperationWithChannels persists an operation and all of its channels
// in one transaction and returns the stored view.
func (s *Store) CreateOperationWithChannels(ctx context.Context, op model.Operation, chs []model.Channel) (*model.OperationView, error) {
	view := &model.OperationView{Channels: make([]model.Channel, 0, len(chs))}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertOperation(ctx, tx, &op); err != nil {
			return err
		}
		for _, ch := range chs {
			ch.OperationID = op.ID
			if err := s.insertChannel(ctx, tx, &ch); err != nil {
				return err
			}
			view.Channels = append(view.Channels, ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	view.Operation = op
	return view, nil
}

func (s *Store) insertOperation(ctx context.Context, tx *sql.Tx, op *model.Operation) error {
	if op.ID == "" {
		return model.Validationf("operation id is required")
	}
	if op.Status == "" {
		op.Status = model.StatusPending
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.clock()
	}
	op.CreatedAt = op.CreatedAt.UTC()
	op.UpdatedAt = touch(op.UpdatedAt.UTC(), op.CreatedAt, op.CreatedAt)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID,
		string(op.Type),
		string(op.Status),
		op.ErrorMessage,
		op.IsAsync,
		toNanos(op.CreatedAt),
		toNanos(op.UpdatedAt),
		nullJSON(op.Metadata),
	)
	if err != nil {
		return classify("create operation", err)
	}
	return nil
}

func (s *Store) insertChannel(ctx context.Context, tx *sql.Tx, ch *model.Channel) error {
	if ch.ID == "" {
		return model.Validationf("channel id is required")
	}
	if ch.Status == "" {
		ch.Status = model.StatusPending
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = s.clock()
	}
	ch.CreatedAt = ch.CreatedAt.UTC()
	ch.UpdatedAt = touch(ch.UpdatedAt.UTC(), ch.CreatedAt, ch.CreatedAt)
	if ch.NextAttemptAt.IsZero() {
		ch.NextAttemptAt = ch.CreatedAt
	}
	ch.NextAttemptAt = ch.NextAttemptAt.UTC()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO channels
		(`+channelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ch.ID,
		ch.OperationID,
		string(ch.Kind),
		string(ch.Status),
		ch.ErrorMessage,
		ch.Attempts,
		nullJSON(ch.Payload),
		toNanos(ch.NextAttemptAt),
		toNanos(ch.CreatedAt),
		toNanos(ch.UpdatedAt),
	)
	if err != nil {
		return classify("create channel", err)
	}
	return nil
}

// UpdateOperationStatus moves an operation to status. errMsg is kept only
// when status is failed. Returns CONFLICT when the operation is terminal or
// the move would lower its rank, NOT_FOUND for an unknown id.
func (s *Store) UpdateOperationStatus(ctx context.Context, id string, status model.Status, errMsg string) (*model.Operation, error) {
	var out model.Operation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		op, err := getOperation(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := statemachine.CanTransitionOperation(op.Status, status); err != nil {
			return err
		}
		if status != model.StatusFailed {
			errMsg = ""
		}
		out, err = s.writeOperation(ctx, tx, op, status, errMsg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateChannelStatus moves a channel to status without counting an attempt
// and recomputes the owning operation in the same transaction.
func (s *Store) UpdateChannelStatus(ctx context.Context, id string, status model.Status, errMsg string) (*model.Channel, *model.Operation, error) {
	return s.ApplyAttempt(ctx, id, func(model.Channel, time.Time) statemachine.ChannelUpdate {
		return statemachine.ChannelUpdate{Status: status, ErrorMessage: errMsg}
	})
}

// ClaimChannel moves a pending channel to running. Returns CONFLICT if the
// channel is not pending, which is how concurrent dispatchers lose the race.
func (s *Store) ClaimChannel(ctx context.Context, id string) (*model.Channel, *model.Operation, error) {
	return s.apply(ctx, id, model.StatusPending, func(model.Channel, time.Time) statemachine.ChannelUpdate {
		return statemachine.ChannelUpdate{Status: model.StatusRunning}
	})
}

// DecideFunc computes a channel update from the latest persisted row. now is
// the store's transaction time.
type DecideFunc func(ch model.Channel, now time.Time) statemachine.ChannelUpdate

// ApplyAttempt re-reads a channel, asks decide for the outcome, validates
// it through the state machine, writes it with a compare-and-set on the
// previous status and attempt count, and recomputes the owning operation.
// All of it commits atomically.
func (s *Store) ApplyAttempt(ctx context.Context, id string, decide DecideFunc) (*model.Channel, *model.Operation, error) {
	return s.apply(ctx, id, "", decide)
}

// apply implements ApplyAttempt. A non-empty require rejects channels in
// any other status.
func (s *Store) apply(ctx context.Context, id string, require model.Status, decide DecideFunc) (*model.Channel, *model.Operation, error) {
	var (
		outCh model.Channel
		outOp model.Operation
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ch, err := getChannel(ctx, tx, id)
		if err != nil {
			return err
		}
		if require != "" && ch.Status != require {
			return model.Conflictf("channel %s is %s, not %s", ch.ID, ch.Status, require)
		}

		now := s.clock()
		next, err := statemachine.ApplyChannel(ch, decide(ch, now), touch(now, ch.UpdatedAt, ch.CreatedAt))
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE channels
			SET status = ?, error_message = ?, attempts = ?, next_attempt_at = ?, updated_at = ?
			WHERE id = ? AND status = ? AND attempts = ?
		`,
			string(next.Status),
			next.ErrorMessage,
			next.Attempts,
			toNanos(next.NextAttemptAt),
			toNanos(next.UpdatedAt),
			ch.ID,
			string(ch.Status),
			ch.Attempts,
		)
		if err != nil {
			return model.StoreError("update channel", err)
		}
		if err := expectOneRow(res, "channel", ch.ID); err != nil {
			return err
		}

		op, err := s.recomputeOperation(ctx, tx, ch.OperationID, now)
		if err != nil {
			return err
		}
		outCh, outOp = next, op
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &outCh, &outOp, nil
}

// recomputeOperation derives the operation status from its persisted
// channels and writes it if it changed. A terminal operation is left alone.
func (s *Store) recomputeOperation(ctx context.Context, tx *sql.Tx, opID string, now time.Time) (model.Operation, error) {
	op, err := getOperation(ctx, tx, opID)
	if err != nil {
		return model.Operation{}, err
	}
	if op.Status.IsTerminal() {
		return op, nil
	}
	chs, err := listChannels(ctx, tx, opID)
	if err != nil {
		return model.Operation{}, err
	}

	status, msg := statemachine.Aggregate(op.Status, chs)
	if status == op.Status && msg == op.ErrorMessage {
		return op, nil
	}
	if err := statemachine.CanTransitionOperation(op.Status, status); err != nil {
		return model.Operation{}, err
	}
	return s.writeOperationAt(ctx, tx, op, status, msg, now)
}

func (s *Store) writeOperation(ctx context.Context, tx *sql.Tx, op model.Operation, status model.Status, errMsg string) (model.Operation, error) {
	return s.writeOperationAt(ctx, tx, op, status, errMsg, s.clock())
}

func (s *Store) writeOperationAt(ctx context.Context, tx *sql.Tx, op model.Operation, status model.Status, errMsg string, now time.Time) (model.Operation, error) {
	updated := touch(now, op.UpdatedAt, op.CreatedAt)
	res, err := tx.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), errMsg, toNanos(updated), op.ID, string(op.Status))
	if err != nil {
		return model.Operation{}, model.StoreError("update operation", err)
	}
	if err := expectOneRow(res, "operation", op.ID); err != nil {
		return model.Operation{}, err
	}
	op.Status = status
	op.ErrorMessage = errMsg
	op.UpdatedAt = updated
	return op, nil
}

// expectOneRow turns a compare-and-set miss into CONFLICT.
func expectOneRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.StoreError("rows affected", err)
	}
	if n != 1 {
		return model.Conflictf("%s %s was modified concurrently", entity, id)
	}
	return nil
}
