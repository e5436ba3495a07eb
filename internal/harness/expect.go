package harness

import (
	"sort"
	"strings"
	"time"

	"github.com/roach88/opsd/internal/model"
)

// checkExpectations records every mismatch between want and the final
// operation on result.
func checkExpectations(want Expectation, view *model.OperationView, result *Result) {
	if string(view.Status) != want.Status {
		result.AddError("status: expected %q, got %q", want.Status, view.Status)
	}
	if want.ErrorContains != "" && !strings.Contains(view.ErrorMessage, want.ErrorContains) {
		result.AddError("error_message: expected to contain %q, got %q", want.ErrorContains, view.ErrorMessage)
	}
	if want.MinElapsed != "" {
		if floor, err := time.ParseDuration(want.MinElapsed); err == nil && result.Elapsed < floor {
			result.AddError("elapsed: expected at least %s, got %s", floor, result.Elapsed)
		}
	}

	kinds := make([]string, 0, len(want.Channels))
	for kind := range want.Channels {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		ce := want.Channels[kind]
		matched := 0
		for _, ch := range view.Channels {
			if string(ch.Kind) != kind {
				continue
			}
			matched++
			checkChannel(kind, ce, ch, result)
		}
		if matched == 0 {
			result.AddError("channels.%s: no channel of this kind", kind)
		}
	}
}

func checkChannel(kind string, want ChannelExpectation, ch model.Channel, result *Result) {
	if want.Status != "" && string(ch.Status) != want.Status {
		result.AddError("channels.%s.status: expected %q, got %q", kind, want.Status, ch.Status)
	}
	if want.Attempts != nil && ch.Attempts != *want.Attempts {
		result.AddError("channels.%s.attempts: expected %d, got %d", kind, *want.Attempts, ch.Attempts)
	}
	if want.ErrorContains != "" && !strings.Contains(ch.ErrorMessage, want.ErrorContains) {
		result.AddError("channels.%s.error_message: expected to contain %q, got %q", kind, want.ErrorContains, ch.ErrorMessage)
	}
}
