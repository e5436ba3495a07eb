package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/roach88/opsd/internal/model"
)

// ListDueChannels returns pending channels whose next attempt is due at or
// before now and whose operation is still open, oldest due first. limit <= 0
// means no limit.
func (s *Store) ListDueChannels(ctx context.Context, now time.Time, limit int) ([]model.Channel, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.operation_id, c.channel, c.status, c.error_message, c.attempts,
		       c.payload, c.next_attempt_at, c.created_at, c.updated_at
		FROM channels c
		JOIN operations o ON o.id = c.operation_id
		WHERE c.status = 'pending'
		  AND c.next_attempt_at <= ?
		  AND o.status IN ('pending', 'running')
		ORDER BY c.next_attempt_at ASC, c.created_at ASC, c.id ASC
		LIMIT ?
	`, toNanos(now.UTC()), limit)
	if err != nil {
		return nil, model.StoreError("query due channels", err)
	}
	defer rows.Close()

	chs := []model.Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, model.StoreError("scan channel", err)
		}
		chs = append(chs, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errRows("due channels", err)
	}
	return chs, nil
}

// ReleaseRunningChannels moves every running channel back to pending so a
// restarted process can pick it up. An interrupted attempt is not counted.
// Call it only when no other process is executing against this database.
// Returns the number of channels released.
func (s *Store) ReleaseRunningChannels(ctx context.Context) (int, error) {
	var released int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toNanos(s.clock())
		res, err := tx.ExecContext(ctx, `
			UPDATE channels
			SET status = 'pending',
			    updated_at = MAX(?, updated_at)
			WHERE status = 'running'
		`, now)
		if err != nil {
			return model.StoreError("release running channels", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.StoreError("rows affected", err)
		}
		released = int(n)
		return nil
	})
	return released, err
}

// NextDueAt returns the earliest next_attempt_at among pending channels of
// open operations. ok is false when nothing is waiting.
func (s *Store) NextDueAt(ctx context.Context) (due time.Time, ok bool, err error) {
	var n sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(c.next_attempt_at)
		FROM channels c
		JOIN operations o ON o.id = c.operation_id
		WHERE c.status = 'pending'
		  AND o.status IN ('pending', 'running')
	`).Scan(&n)
	if err != nil {
		return time.Time{}, false, model.StoreError("query next due", err)
	}
	if !n.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(n.Int64), true, nil
}

// CountOpenOperations returns how many operations are still pending or
// running.
func (s *Store) CountOpenOperations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations WHERE status IN ('pending', 'running')
	`).Scan(&n)
	if err != nil {
		return 0, model.StoreError("count open operations", err)
	}
	return n, nil
}
