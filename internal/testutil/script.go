package testutil

import (
	"errors"
	"sync"
)

// Outcome is one scripted executor result. An empty Fail means success.
type Outcome struct {
	Fail  string
	Panic bool
}

// OK is a successful outcome.
var OK = Outcome{}

// Fail returns a failing outcome with the given reason.
func Fail(reason string) Outcome {
	return Outcome{Fail: reason}
}

// ScriptedExecutor replays scripted outcomes per key (usually a channel
// kind). Once a key's script is exhausted its last outcome repeats; a key
// with no script always succeeds.
//
// It has no dependency on the engine so that engine tests can use it; wrap
// Next in an engine.ExecutorFunc.
type ScriptedExecutor struct {
	mu      sync.Mutex
	scripts map[string][]Outcome
	calls   map[string]int
}

// NewScriptedExecutor creates an executor with no scripts.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		scripts: make(map[string][]Outcome),
		calls:   make(map[string]int),
	}
}

// Script sets the outcomes for key, replacing any previous script.
func (s *ScriptedExecutor) Script(key string, outcomes ...Outcome) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[key] = outcomes
	return s
}

// Next records a call for key and returns its scripted result.
// A Panic outcome panics with the Fail reason.
func (s *ScriptedExecutor) Next(key string) error {
	s.mu.Lock()
	n := s.calls[key]
	s.calls[key] = n + 1
	script := s.scripts[key]
	s.mu.Unlock()

	if len(script) == 0 {
		return nil
	}
	out := script[len(script)-1]
	if n < len(script) {
		out = script[n]
	}
	if out.Panic {
		panic(out.Fail)
	}
	if out.Fail != "" {
		return errors.New(out.Fail)
	}
	return nil
}

// Calls returns how many times key was executed.
func (s *ScriptedExecutor) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}
