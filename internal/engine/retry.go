package engine

import (
	"time"

	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/statemachine"
	"github.com/roach88/opsd/internal/store"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy bounds channel attempts. It is engine-wide, not per record.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. Each later
	// failure doubles it, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the default policy: 3 attempts, 1s doubling
// backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// normalize clamps nonsensical values.
func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Backoff returns the wait after failed attempt n (1-based):
// min(BaseDelay * 2^(n-1), MaxDelay). Non-decreasing in n.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if d >= p.MaxDelay || d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Decide returns the store decision for an attempt that ended with
// execErr. The attempt is always counted. A failure becomes terminal only
// once attempts reaches MaxAttempts; before that the channel goes back to
// pending, due after the backoff.
func (p RetryPolicy) Decide(execErr error) store.DecideFunc {
	return func(ch model.Channel, now time.Time) statemachine.ChannelUpdate {
		if execErr == nil {
			return statemachine.ChannelUpdate{Status: model.StatusDone, CountAttempt: true}
		}
		attempts := ch.Attempts + 1
		msg := execErr.Error()
		if attempts < p.MaxAttempts {
			return statemachine.ChannelUpdate{
				Status:        model.StatusPending,
				ErrorMessage:  msg,
				NextAttemptAt: now.Add(p.Backoff(attempts)),
				CountAttempt:  true,
			}
		}
		return statemachine.ChannelUpdate{
			Status:       model.StatusFailed,
			ErrorMessage: msg,
			CountAttempt: true,
		}
	}
}
