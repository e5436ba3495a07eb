package testutil

import (
	"context"
	"sync"
	"time"
)

// StepClock is a thread-safe deterministic wall clock for tests.
//
// Every call to Now returns the current instant and then moves it forward
// by step, so consecutive reads are strictly increasing when step > 0.
// Advance jumps forward explicitly, which is how tests skip backoff windows.
type StepClock struct {
	mu    sync.Mutex
	now   time.Time
	start time.Time
	step  time.Duration
}

// Epoch is the default start instant for StepClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewStepClock creates a clock starting at start that advances by step on
// every read.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start.UTC(), start: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock by step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep advances the clock by d instead of blocking, so code waiting out a
// backoff runs instantly under test.
func (c *StepClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.Advance(d)
	}
	return nil
}

// Reset moves the clock back to its start instant.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
