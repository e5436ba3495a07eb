package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/store"
	"github.com/roach88/opsd/internal/testutil"
)

// testRig wires an engine to a temp store, a step clock, and a scripted
// executor registered for every channel kind and operation type. Scripts
// are keyed by channel kind, or by operation type for implicit channels.
type testRig struct {
	engine *Engine
	store  *store.Store
	clock  *testutil.StepClock
	script *testutil.ScriptedExecutor
	path   string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scriptedRegistry(script *testutil.ScriptedExecutor) *Registry {
	reg := NewRegistry()
	exec := ExecutorFunc(func(_ context.Context, task Task) error {
		key := string(task.Channel.Kind)
		if task.Channel.Kind == model.ChannelImplicit {
			key = string(task.Operation.Type)
		}
		return script.Next(key)
	})
	for _, k := range model.ChannelKinds {
		if k != model.ChannelImplicit {
			reg.RegisterChannel(k, exec)
		}
	}
	for _, t := range model.OperationTypes {
		reg.RegisterOperation(t, exec)
	}
	return reg
}

func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewStepClock(testutil.Epoch, time.Millisecond)

	s, err := store.Open(path, store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	script := testutil.NewScriptedExecutor()
	base := []Option{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequenceIDs("id")),
		WithLogger(discardLogger()),
	}
	e := New(s, scriptedRegistry(script), append(base, opts...)...)
	return &testRig{engine: e, store: s, clock: clock, script: script, path: path}
}

// reopen simulates a process restart: a fresh store connection and engine
// over the same database file, sharing the clock and script.
func (r *testRig) reopen(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	require.NoError(t, r.store.Close())

	s, err := store.Open(r.path, store.WithClock(r.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := []Option{
		WithClock(r.clock),
		WithIDGenerator(testutil.NewSequenceIDs("id2")),
		WithLogger(discardLogger()),
	}
	e := New(s, scriptedRegistry(r.script), append(base, opts...)...)
	return &testRig{engine: e, store: s, clock: r.clock, script: r.script, path: r.path}
}

func targets(kinds ...model.ChannelKind) []model.Target {
	out := make([]model.Target, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, model.Target{Kind: k})
	}
	return out
}

// channelByKind returns the first channel of kind in view.
func channelByKind(t *testing.T, view *model.OperationView, kind model.ChannelKind) model.Channel {
	t.Helper()
	for _, ch := range view.Channels {
		if ch.Kind == kind {
			return ch
		}
	}
	t.Fatalf("no %s channel in operation %s", kind, view.ID)
	return model.Channel{}
}

// openSystemStore opens a store on the real clock, for tests that run the
// worker pool in real time.
func openSystemStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
