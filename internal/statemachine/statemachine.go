// Package statemachine holds the pure transition rules for operations and
// channels, and the policy that derives an operation's status from its
// channels.
//
// Nothing here touches storage. The store calls these functions inside its
// transactions, after re-reading the latest persisted rows, so every write is
// validated against current state rather than a cached copy.
package statemachine

import (
	"strings"
	"time"

	"github.com/roach88/opsd/internal/model"
)

// rank orders operation states. Operations never move to a lower rank.
func rank(s model.Status) int {
	switch s {
	case model.StatusPending:
		return 0
	case model.StatusRunning:
		return 1
	case model.StatusDone, model.StatusFailed:
		return 2
	}
	return -1
}

// CanTransitionOperation reports whether an operation may move from one
// status to another. Leaving a terminal state, including rewriting the same
// terminal state, is a conflict.
func CanTransitionOperation(from, to model.Status) error {
	if !to.Valid() {
		return model.Validationf("unknown status %q", to)
	}
	if from.IsTerminal() {
		return model.Conflictf("operation is already %s", from)
	}
	if rank(to) < rank(from) {
		return model.Conflictf("operation cannot move from %s back to %s", from, to)
	}
	return nil
}

// CanTransitionChannel reports whether a channel may move from one status to
// another. Non-terminal channels move freely; running -> pending is how a
// retry is requeued.
func CanTransitionChannel(from, to model.Status) error {
	if !to.Valid() {
		return model.Validationf("unknown status %q", to)
	}
	if from.IsTerminal() {
		return model.Conflictf("channel is already %s", from)
	}
	return nil
}

// ChannelUpdate is the outcome to apply to one channel.
type ChannelUpdate struct {
	Status       model.Status
	ErrorMessage string

	// NextAttemptAt is when a pending channel becomes due. Zero leaves the
	// persisted value unchanged.
	NextAttemptAt time.Time

	// CountAttempt increments the attempt counter with this update.
	CountAttempt bool
}

// ApplyChannel validates u against the channel's current state and returns
// the updated record. updated_at is set to now.
func ApplyChannel(ch model.Channel, u ChannelUpdate, now time.Time) (model.Channel, error) {
	if err := CanTransitionChannel(ch.Status, u.Status); err != nil {
		return ch, err
	}
	ch.Status = u.Status
	switch u.Status {
	case model.StatusDone:
		ch.ErrorMessage = ""
	case model.StatusFailed:
		ch.ErrorMessage = u.ErrorMessage
	default:
		if u.ErrorMessage != "" {
			ch.ErrorMessage = u.ErrorMessage
		}
	}
	if u.CountAttempt {
		ch.Attempts++
	}
	if !u.NextAttemptAt.IsZero() {
		ch.NextAttemptAt = u.NextAttemptAt
	}
	ch.UpdatedAt = now
	return ch, nil
}

// Aggregate derives an operation's status from its channels, which must be
// in creation order. The returned message is non-empty only for failed.
//
// While any channel is outstanding the operation is running once work has
// started, pending otherwise. A failed channel never fails the operation
// while siblings are outstanding.
func Aggregate(current model.Status, channels []model.Channel) (model.Status, string) {
	if len(channels) == 0 {
		return current, ""
	}

	started := current == model.StatusRunning
	outstanding := false
	allDone := true
	for _, ch := range channels {
		switch ch.Status {
		case model.StatusPending, model.StatusRunning:
			outstanding = true
			allDone = false
		case model.StatusFailed:
			allDone = false
		}
		if ch.Started() {
			started = true
		}
	}

	switch {
	case outstanding && started:
		return model.StatusRunning, ""
	case outstanding:
		return model.StatusPending, ""
	case allDone:
		return model.StatusDone, ""
	}
	return model.StatusFailed, FailureSummary(channels)
}

// FailureSummary joins the errors of failed channels as "kind: error",
// separated by "; ", in the given order.
func FailureSummary(channels []model.Channel) string {
	var parts []string
	for _, ch := range channels {
		if ch.Status != model.StatusFailed {
			continue
		}
		msg := ch.ErrorMessage
		if msg == "" {
			msg = "failed"
		}
		parts = append(parts, string(ch.Kind)+": "+msg)
	}
	return strings.Join(parts, "; ")
}
