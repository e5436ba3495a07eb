package harness

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/testutil"
)

// Snapshot is the deterministic part of a scenario's final state. Ids and
// timestamps are left out; channels are ordered by kind.
type Snapshot struct {
	Scenario     string            `json:"scenario"`
	Type         string            `json:"operation_type"`
	Async        bool              `json:"is_async"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Channels     []ChannelSnapshot `json:"channels"`
}

// ChannelSnapshot is one channel of a Snapshot. Calls counts executor
// invocations for the channel's kind.
type ChannelSnapshot struct {
	Kind         string `json:"channel"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	Calls        int    `json:"calls"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func takeSnapshot(name string, view *model.OperationView, script *testutil.ScriptedExecutor) Snapshot {
	snap := Snapshot{
		Scenario:     name,
		Type:         string(view.Type),
		Async:        view.IsAsync,
		Status:       string(view.Status),
		ErrorMessage: view.ErrorMessage,
		Channels:     make([]ChannelSnapshot, 0, len(view.Channels)),
	}
	for _, ch := range view.Channels {
		snap.Channels = append(snap.Channels, ChannelSnapshot{
			Kind:         string(ch.Kind),
			Status:       string(ch.Status),
			Attempts:     ch.Attempts,
			Calls:        script.Calls(string(ch.Kind)),
			ErrorMessage: ch.ErrorMessage,
		})
	}
	sort.SliceStable(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Kind < snap.Channels[j].Kind
	})
	return snap
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario, fails t on unmet expectations, and
// compares the snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's snapshot against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := result.Snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
