package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/store"
	"github.com/roach88/opsd/internal/testutil"
)

// runTimeout bounds one scenario in wall-clock time. Scenario time itself
// runs on a step clock and never waits.
const runTimeout = 30 * time.Second

// Result is the outcome of one scenario.
type Result struct {
	// Pass is true when every expectation matched.
	Pass bool `json:"pass"`

	// Errors lists failed expectations.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the deterministic final state.
	Snapshot Snapshot `json:"snapshot"`

	// Elapsed is scenario time from submission to the terminal state.
	Elapsed time.Duration `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError records a failed expectation and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario against a fresh engine and store.
//
// Errors are returned only when the scenario could not run at all (bad
// request, store failure). Unmet expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "opsd-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewStepClock(testutil.Epoch, time.Millisecond)
	st, err := store.Open(filepath.Join(dir, "harness.db"), store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	policy, err := scenario.Policy.retryPolicy()
	if err != nil {
		return nil, err
	}
	req, err := scenario.Submit.request()
	if err != nil {
		return nil, err
	}

	script := testutil.NewScriptedExecutor()
	for kind, steps := range scenario.Script {
		outcomes := make([]testutil.Outcome, len(steps))
		for i, s := range steps {
			outcomes[i] = testutil.Outcome(s)
		}
		script.Script(kind, outcomes...)
	}

	eng := engine.New(st, scriptedRegistry(script),
		engine.WithPolicy(policy),
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequenceIDs("id")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	start := clock.Peek()
	h, err := eng.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if h.Async {
		if err := eng.Drain(ctx); err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
	}

	view, err := eng.GetOperation(ctx, h.OperationID)
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}

	result := NewResult()
	result.Elapsed = clock.Peek().Sub(start)
	result.Snapshot = takeSnapshot(scenario.Name, view, script)
	checkExpectations(scenario.Expect, view, result)
	return result, nil
}

// scriptedRegistry routes every channel kind, and the implicit channel of
// every operation type, to script keyed by channel kind.
func scriptedRegistry(script *testutil.ScriptedExecutor) *engine.Registry {
	reg := engine.NewRegistry()
	exec := engine.ExecutorFunc(func(_ context.Context, task engine.Task) error {
		return script.Next(string(task.Channel.Kind))
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
