package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/opsd/internal/model"
)

// runSync drives a freshly created operation to a terminal state on the
// caller's goroutine. Each channel runs in its own goroutine and waits out
// its own backoff.
func (e *Engine) runSync(ctx context.Context, view *model.OperationView) error {
	if _, err := e.store.UpdateOperationStatus(ctx, view.ID, model.StatusRunning, ""); err != nil {
		return fmt.Errorf("start operation %s: %w", view.ID, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, ch := range view.Channels {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := e.driveChannel(ctx, id); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(ch.ID)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	e.logFinished(ctx, view.ID)
	return nil
}

// driveChannel attempts one channel until it is terminal. A channel
// claimed by another dispatcher is followed through the store until that
// dispatcher finishes it or hands it back.
func (e *Engine) driveChannel(ctx context.Context, id string) error {
	for {
		ch, _, err := e.attempt(ctx, id)
		if err != nil {
			return err
		}
		if ch == nil {
			if ch, err = e.store.GetChannel(ctx, id); err != nil {
				return fmt.Errorf("reload channel %s: %w", id, err)
			}
		}
		if ch.Status.IsTerminal() {
			return nil
		}

		wait := e.pollInterval
		if ch.Status == model.StatusPending {
			wait = ch.NextAttemptAt.Sub(e.clock.Now())
		}
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// runPass performs one async pass over an operation: every due pending
// channel is attempted concurrently, once. Errors are logged; anything
// left pending is picked up by a later scheduler scan. Returns the number
// of attempts applied.
func (e *Engine) runPass(ctx context.Context, id string) int {
	defer e.releaseInflight(id)

	log := e.logger.With("operation_id", id)
	view, err := e.store.GetOperationView(ctx, id)
	if err != nil {
		log.Error("load operation failed", "error", err)
		return 0
	}
	if view.Status.IsTerminal() {
		e.finishHandle(id)
		return 0
	}

	now := e.clock.Now()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for _, ch := range view.Channels {
		if ch.Status != model.StatusPending || ch.NextAttemptAt.After(now) {
			continue
		}
		wg.Add(1)
		go func(chID string) {
			defer wg.Done()
			ch, _, err := e.attempt(ctx, chID)
			if err != nil {
				if ctx.Err() != nil {
					log.Debug("attempt interrupted", "channel_id", chID, "error", err)
					return
				}
				log.Error("attempt not applied", "channel_id", chID, "error", err)
				return
			}
			if ch != nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(ch.ID)
	}
	wg.Wait()

	op, err := e.store.GetOperation(context.WithoutCancel(ctx), id)
	if err != nil {
		log.Error("reload operation failed", "error", err)
		return applied
	}
	if op.Status.IsTerminal() {
		e.logOperation(op)
		e.finishHandle(id)
	}
	return applied
}

// attempt runs claim -> execute -> apply for one channel. It returns
// (nil, nil, nil) if another dispatcher holds the channel.
//
// An attempt that cannot be applied (store failure, cancellation) is
// released back to pending without counting, so it stays recoverable.
func (e *Engine) attempt(ctx context.Context, id string) (*model.Channel, *model.Operation, error) {
	ch, op, err := e.store.ClaimChannel(ctx, id)
	if errors.Is(err, model.ErrConflict) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("claim channel %s: %w", id, err)
	}

	log := e.logger.With(
		"operation_id", op.ID,
		"channel_id", ch.ID,
		"channel", ch.Kind,
		"attempt", ch.Attempts+1,
	)

	execErr := e.execute(ctx, Task{Operation: *op, Channel: *ch})
	if ctx.Err() != nil {
		e.releaseChannel(ctx, ch)
		return nil, nil, ctx.Err()
	}
	if execErr != nil {
		log.Warn("channel attempt failed", "error", execErr)
	} else {
		log.Debug("channel attempt succeeded")
	}

	applied, after, err := e.store.ApplyAttempt(ctx, id, e.policy.Decide(execErr))
	if err != nil {
		e.releaseChannel(ctx, ch)
		return nil, nil, fmt.Errorf("apply attempt on channel %s: %w", id, err)
	}

	switch applied.Status {
	case model.StatusPending:
		log.Info("channel retry scheduled", "next_attempt_at", applied.NextAttemptAt, "attempts", applied.Attempts)
	case model.StatusFailed:
		log.Warn("channel failed", "attempts", applied.Attempts, "error", applied.ErrorMessage)
	}
	return applied, after, nil
}

// execute resolves and runs the executor, turning panics into failures.
func (e *Engine) execute(ctx context.Context, task Task) (err error) {
	exec, err := e.registry.resolve(task.Operation, task.Channel)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, task)
}

// releaseChannel puts a claimed channel back to pending. If the store
// refuses, the claim is remembered and releaseStranded retries it on the
// next scan.
func (e *Engine) releaseChannel(ctx context.Context, claimed *model.Channel) {
	_, _, err := e.store.UpdateChannelStatus(context.WithoutCancel(ctx), claimed.ID, model.StatusPending, "")
	if err != nil && !errors.Is(err, model.ErrConflict) {
		e.logger.Error("release channel failed", "channel_id", claimed.ID, "error", err)
		e.mu.Lock()
		e.stranded[claimed.ID] = claimed.UpdatedAt
		e.mu.Unlock()
	}
}

// releaseStranded retries releases that failed earlier. A channel is only
// released while it still carries the claim this process made. Returns the
// number of channels handed back to pending.
func (e *Engine) releaseStranded(ctx context.Context) int {
	e.mu.Lock()
	claims := make(map[string]time.Time, len(e.stranded))
	for id, at := range e.stranded {
		claims[id] = at
	}
	e.mu.Unlock()

	released := 0
	for id, claimedAt := range claims {
		ch, err := e.store.GetChannel(ctx, id)
		if err == nil && ch.Status == model.StatusRunning && ch.UpdatedAt.Equal(claimedAt) {
			_, _, err = e.store.UpdateChannelStatus(ctx, id, model.StatusPending, "")
			if err == nil {
				released++
			}
		}
		if err != nil && !errors.Is(err, model.ErrConflict) && !errors.Is(err, model.ErrNotFound) {
			e.logger.Warn("release channel still failing", "channel_id", id, "error", err)
			continue
		}
		e.mu.Lock()
		delete(e.stranded, id)
		e.mu.Unlock()
	}
	if released > 0 {
		e.logger.Info("released stranded channels", "count", released)
	}
	return released
}

// forgetStranded drops remembered claims after a bulk release.
func (e *Engine) forgetStranded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.stranded)
}

func (e *Engine) logFinished(ctx context.Context, id string) {
	op, err := e.store.GetOperation(ctx, id)
	if err != nil {
		return
	}
	e.logOperation(op)
}

func (e *Engine) logOperation(op *model.Operation) {
	if op.Status == model.StatusFailed {
		e.logger.Warn("operation failed", "operation_id", op.ID, "error", op.ErrorMessage)
		return
	}
	e.logger.Info("operation finished", "operation_id", op.ID, "status", op.Status)
}
