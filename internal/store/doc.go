// Package store provides SQLite-backed durable storage for operations and
// their channels.
//
// Every mutation runs in a single transaction that re-reads the affected
// rows, validates the transition through package statemachine, and writes
// with a compare-and-set on the previous status. A channel update and the
// recomputed operation aggregate commit together, so a restart observes
// either the state before a write or after it, never a mix.
//
// # Ordering
//
//   - ListOperations: ORDER BY created_at DESC, id DESC
//   - ListChannels:   ORDER BY created_at ASC, id ASC (creation order)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascade channel rows with their operation
//   - _txlock=immediate: Transactions take the write lock up front
package store
