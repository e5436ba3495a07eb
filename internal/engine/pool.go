package engine

import (
	"context"
	"fmt"
	"time"
)

// Start resumes persisted work and runs the worker pool and retry
// scheduler until ctx is cancelled or Stop is called. It returns once the
// goroutines are running.
//
// Channels left running by a previous process are released to pending
// first, so only one process may Start against a database at a time.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("engine starting",
		"workers", e.workers,
		"poll_interval", e.pollInterval,
		"max_attempts", e.policy.MaxAttempts,
	)

	released, err := e.store.ReleaseRunningChannels(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("release running channels: %w", err)
	}
	e.forgetStranded()
	if released > 0 {
		e.logger.Info("released interrupted channels", "count", released)
	}

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, i)
	}
	e.wg.Add(1)
	go e.scheduler(runCtx)
	return nil
}

// worker runs passes for dequeued operations.
func (e *Engine) worker(ctx context.Context, n int) {
	defer e.wg.Done()
	log := e.logger.With("worker", n)
	log.Debug("worker started")

	for {
		if id, ok := e.queue.TryDequeue(); ok {
			e.runPass(ctx, id)
			continue
		}

		select {
		case <-ctx.Done():
			log.Debug("worker stopping: context cancelled")
			return
		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				log.Debug("worker stopping: queue closed")
				return
			}
		}
	}
}

// Stop cancels running passes and closes the queue. Interrupted attempts
// are released back to pending.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.queue.Close()
}

// Shutdown stops the engine and waits up to timeout for workers and the
// scheduler to exit.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	e.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("engine shutdown timed out after %s", timeout)
	}
}
