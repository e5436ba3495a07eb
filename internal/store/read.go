package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/roach88/opsd/internal/model"
)

// GetOperation returns the operation with the given id, or NOT_FOUND.
func (s *Store) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	op, err := getOperation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// GetChannel returns the channel with the given id, or NOT_FOUND.
func (s *Store) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	ch, err := getChannel(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns an operation's channels in creation order.
// Returns NOT_FOUND if the operation does not exist.
func (s *Store) ListChannels(ctx context.Context, operationID string) ([]model.Channel, error) {
	var chs []model.Channel
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		if _, err := getOperation(ctx, tx, operationID); err != nil {
			return err
		}
		var err error
		chs, err = listChannels(ctx, tx, operationID)
		return err
	})
	return chs, err
}

// GetOperationView returns an operation and its channels from one
// consistent snapshot.
func (s *Store) GetOperationView(ctx context.Context, id string) (*model.OperationView, error) {
	var view model.OperationView
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		op, err := getOperation(ctx, tx, id)
		if err != nil {
			return err
		}
		chs, err := listChannels(ctx, tx, id)
		if err != nil {
			return err
		}
		view = model.OperationView{Operation: op, Channels: chs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListOperations returns one page of operations matching filter, newest
// first. page is 1-based; page and pageSize must be positive.
func (s *Store) ListOperations(ctx context.Context, filter model.Filter, page, pageSize int) (model.Page, error) {
	if page < 1 {
		return model.Page{}, model.Validationf("page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return model.Page{}, model.Validationf("page_size must be > 0, got %d", pageSize)
	}

	where, args := filterClause(filter)
	out := model.Page{Items: []model.Operation{}, Page: page, PageSize: pageSize}

	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`+where, args...).Scan(&out.Total); err != nil {
			return model.StoreError("count operations", err)
		}

		pageArgs := append(append([]any{}, args...), pageSize, (page-1)*pageSize)
		rows, err := tx.QueryContext(ctx, `
			SELECT `+operationColumns+`
			FROM operations`+where+`
			ORDER BY created_at DESC, id DESC
			LIMIT ? OFFSET ?
		`, pageArgs...)
		if err != nil {
			return model.StoreError("query operations", err)
		}
		defer rows.Close()

		for rows.Next() {
			op, err := scanOperation(rows)
			if err != nil {
				return model.StoreError("scan operation", err)
			}
			out.Items = append(out.Items, op)
		}
		if err := rows.Err(); err != nil {
			return errRows("operations", err)
		}
		return nil
	})
	if err != nil {
		return model.Page{}, err
	}
	return out, nil
}

func filterClause(f model.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "operation_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Async != nil {
		conds = append(conds, "is_async = ?")
		args = append(args, *f.Async)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func getOperation(ctx context.Context, q querier, id string) (model.Operation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operation{}, model.NotFoundf("operation %s not found", id)
	}
	if err != nil {
		return model.Operation{}, model.StoreError("get operation", err)
	}
	return op, nil
}

func getChannel(ctx context.Context, q querier, id string) (model.Channel, error) {
	row := q.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, model.NotFoundf("channel %s not found", id)
	}
	if err != nil {
		return model.Channel{}, model.StoreError("get channel", err)
	}
	return ch, nil
}

// listChannels returns empty slices (not nil) when an operation has no
// channels.
func listChannels(ctx context.Context, q querier, operationID string) ([]model.Channel, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+channelColumns+`
		FROM channels
		WHERE operation_id = ?
		ORDER BY created_at ASC, id ASC
	`, operationID)
	if err != nil {
		return nil, model.StoreError("query channels", err)
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
		return nil, errRows("channels", err)
	}
	return chs, nil
}

// withReadTx runs fn in a read-only transaction so multi-query reads see
// one snapshot.
func (s *Store) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return model.StoreError("begin read transaction", err)
	}
	defer tx.Rollback()
	return fn(tx)
}
