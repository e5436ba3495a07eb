package engine

import (
	"context"
	"fmt"
	"time"
)

// scheduler re-enqueues operations whose channels are due. It is the only
// retry trigger: nothing waits on in-memory timers.
func (e *Engine) scheduler(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.scheduleDue(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("scheduler stopping: context cancelled")
			return
		case <-ticker.C:
			e.scheduleDue(ctx)
		}
	}
}

// scheduleDue enqueues every operation with a due channel that is not
// already in flight, after retrying any failed releases. Returns the
// number enqueued.
func (e *Engine) scheduleDue(ctx context.Context) int {
	e.releaseStranded(ctx)

	due, err := e.store.ListDueChannels(ctx, e.clock.Now(), e.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("scan due channels failed", "error", err)
		}
		return 0
	}

	enqueued := 0
	for _, ch := range due {
		if !e.tryMarkInflight(ch.OperationID) {
			continue
		}
		if !e.queue.Enqueue(ch.OperationID) {
			e.releaseInflight(ch.OperationID)
			return enqueued
		}
		enqueued++
		e.logger.Debug("operation scheduled", "operation_id", ch.OperationID, "channel_id", ch.ID)
	}
	return enqueued
}

// Drain runs all outstanding work to completion on the calling goroutine:
// it releases interrupted channels, then repeatedly runs passes over
// operations with due channels, sleeping on the engine clock until the
// next retry is due, until no open operation has pending work.
//
// Drain is the one-shot form of Start used for recovery and tests. Do not
// call it while the engine is started.
func (e *Engine) Drain(ctx context.Context) error {
	released, err := e.store.ReleaseRunningChannels(ctx)
	if err != nil {
		return fmt.Errorf("release running channels: %w", err)
	}
	e.forgetStranded()
	if released > 0 {
		e.logger.Info("released interrupted channels", "count", released)
	}

	// Queued ids are covered by the store scan below.
	for {
		id, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		e.releaseInflight(id)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.releaseStranded(ctx)

		due, err := e.store.ListDueChannels(ctx, e.clock.Now(), 0)
		if err != nil {
			return err
		}
		if len(due) > 0 {
			seen := make(map[string]bool, len(due))
			progress := 0
			for _, ch := range due {
				if seen[ch.OperationID] {
					continue
				}
				seen[ch.OperationID] = true
				e.markInflight(ch.OperationID)
				progress += e.runPass(ctx, ch.OperationID)
			}
			if progress == 0 {
				return fmt.Errorf("drain stalled: %d due channels could not be applied", len(due))
			}
			continue
		}

		next, ok, err := e.store.NextDueAt(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.clock.Sleep(ctx, next.Sub(e.clock.Now())); err != nil {
			return err
		}
	}
}
