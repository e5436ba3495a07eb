// Package engine implements the opsd execution coordinator and retry
// scheduler.
//
// ARCHITECTURE:
//
// Submission:
// Submit validates a request against the executor Registry, persists the
// operation and one pending channel per target in a single store
// transaction, then either drives it to a terminal state on the caller's
// goroutine (sync) or hands the operation id to the worker pool (async).
//
// Channel attempts:
// Every attempt is claim -> execute -> apply. Claim is a compare-and-set
// from pending to running. Apply hands the executor result to the store,
// which re-reads the channel, bumps attempts, decides retry or terminal
// through RetryPolicy, and recomputes the operation aggregate in the same
// transaction. The engine never writes status from memory.
//
// Async execution:
// A worker performs one pass per dequeued operation: every due pending
// channel is attempted concurrently. Retries are not timers; the scheduler
// polls the store for due channels every PollInterval and re-enqueues their
// operations. A restarted process therefore resumes from persisted
// attempts and next_attempt_at alone.
//
// In-flight set:
// An operation id is in the in-flight set from enqueue (or sync
// submission) until its pass ends, so the scheduler never dispatches the
// same operation twice in one process.
//
// Cancellation:
// Executors receive the engine's run context (async) or the caller's
// context (sync). Stop cancels the former; an attempt interrupted by
// cancellation is released back to pending without being counted.
package engine
