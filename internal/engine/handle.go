package engine

import (
	"context"
	"sync"

	"github.com/roach88/opsd/internal/model"
)

// Handle observes a submitted operation.
//
// Done is closed once this process sees the operation reach a terminal
// state. An engine stopped before that leaves Done open; the persisted
// status remains queryable through GetOperation.
type Handle struct {
	OperationID string
	Async       bool

	engine *Engine
	done   chan struct{}
	once   sync.Once
}

func newHandle(e *Engine, id string, async bool) *Handle {
	return &Handle{OperationID: id, Async: async, engine: e, done: make(chan struct{})}
}

func newFinishedHandle(e *Engine, id string, async bool) *Handle {
	h := newHandle(e, id, async)
	h.finish()
	return h
}

// Done returns a channel closed when the operation is terminal.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the operation is terminal or ctx ends, then returns the
// persisted operation and channels.
func (h *Handle) Wait(ctx context.Context) (*model.OperationView, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	return h.engine.GetOperation(ctx, h.OperationID)
}

func (h *Handle) finish() {
	h.once.Do(func() { close(h.done) })
}

// trackHandle registers a handle for an async operation.
func (e *Engine) trackHandle(id string) *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[id]
	if !ok {
		h = newHandle(e, id, true)
		e.handles[id] = h
	}
	return h
}

// finishHandle completes and forgets the handle for id, if any.
func (e *Engine) finishHandle(id string) {
	e.mu.Lock()
	h, ok := e.handles[id]
	delete(e.handles, id)
	e.mu.Unlock()
	if ok {
		h.finish()
	}
}
