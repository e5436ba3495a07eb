package engine

import "sync"

// opQueue is a thread-safe FIFO of operation ids awaiting a worker pass.
//
// The queue is unbounded so that Submit and the scheduler never block on
// busy workers.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loops.
type opQueue struct {
	mu     sync.Mutex
	ids    []string
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newOpQueue() *opQueue {
	return &opQueue{
		ids:    make([]string, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an id to the back of the queue.
// Returns false if the queue is closed.
func (q *opQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.ids = append(q.ids, id)
	q.notify()
	return true
}

// TryDequeue removes the front id without blocking.
// Returns ("", false) if the queue is empty.
func (q *opQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}

	id := q.ids[0]
	if len(q.ids) == 1 {
		q.ids = q.ids[:0]
	} else {
		q.ids = q.ids[1:]
		// Coalesced signals would otherwise leave idle workers asleep
		// while items remain.
		q.notify()
	}
	return id, true
}

// notify must be called with mu held.
func (q *opQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when ids may be available. It is
// closed by Close.
func (q *opQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Close signals that no more ids will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *opQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
