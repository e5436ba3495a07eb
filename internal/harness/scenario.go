package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/testutil"
)

// Scenario is one harness test case.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Policy overrides the engine's retry policy. Zero fields keep defaults.
	Policy Policy `yaml:"policy,omitempty"`

	// Submit is the request submitted to the engine.
	Submit Submission `yaml:"submit"`

	// Script holds executor outcomes per channel kind.
	Script map[string][]Step `yaml:"script,omitempty"`

	// Expect is checked against the final operation.
	Expect Expectation `yaml:"expect"`
}

// Policy is the scenario's retry policy.
type Policy struct {
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	BaseDelay   string `yaml:"base_delay,omitempty"`
	MaxDelay    string `yaml:"max_delay,omitempty"`
}

// Submission describes the submitted request.
type Submission struct {
	Type     string         `yaml:"type"`
	Async    bool           `yaml:"async,omitempty"`
	Channels []ChannelStep  `yaml:"channels,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// ChannelStep is one requested channel.
type ChannelStep struct {
	Channel string         `yaml:"channel"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Step is one scripted executor outcome, written in YAML as `ok`,
// `fail: reason` or `panic: reason`.
type Step testutil.Outcome

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "ok" {
			*s = Step(testutil.OK)
			return nil
		}
		return fmt.Errorf("line %d: unknown step %q (want ok, fail or panic)", node.Line, node.Value)
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		if len(m) != 1 {
			return fmt.Errorf("line %d: step must have exactly one key", node.Line)
		}
		if reason, ok := m["fail"]; ok {
			if reason == "" {
				return fmt.Errorf("line %d: fail needs a reason", node.Line)
			}
			*s = Step(testutil.Fail(reason))
			return nil
		}
		if reason, ok := m["panic"]; ok {
			*s = Step{Fail: reason, Panic: true}
			return nil
		}
		return fmt.Errorf("line %d: unknown step (want ok, fail or panic)", node.Line)
	}
	return fmt.Errorf("line %d: step must be a string or a mapping", node.Line)
}

// Expectation is checked against the final operation.
type Expectation struct {
	Status        string                        `yaml:"status"`
	ErrorContains string                        `yaml:"error_contains,omitempty"`
	MinElapsed    string                        `yaml:"min_elapsed,omitempty"`
	Channels      map[string]ChannelExpectation `yaml:"channels,omitempty"`
}

// ChannelExpectation is checked against every channel of one kind.
type ChannelExpectation struct {
	Status        string `yaml:"status,omitempty"`
	Attempts      *int   `yaml:"attempts,omitempty"`
	ErrorContains string `yaml:"error_contains,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos do not silently weaken a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml and .yml file in dir, sorted by path.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Submit.Type == "" {
		return fmt.Errorf("submit.type is required")
	}
	if _, err := model.ParseOperationType(s.Submit.Type); err != nil {
		return fmt.Errorf("submit.type: %w", err)
	}
	for i, ch := range s.Submit.Channels {
		if _, err := model.ParseChannelKind(ch.Channel); err != nil {
			return fmt.Errorf("submit.channels[%d]: %w", i, err)
		}
	}
	script := make(map[string][]Step, len(s.Script))
	for key, steps := range s.Script {
		kind, err := model.ParseChannelKind(key)
		if err != nil {
			return fmt.Errorf("script.%s: %w", key, err)
		}
		script[string(kind)] = steps
	}
	s.Script = script
	if _, err := s.Policy.retryPolicy(); err != nil {
		return err
	}

	if s.Expect.Status == "" {
		return fmt.Errorf("expect.status is required")
	}
	status, err := model.ParseStatus(s.Expect.Status)
	if err != nil {
		return fmt.Errorf("expect.status: %w", err)
	}
	s.Expect.Status = string(status)
	if s.Expect.MinElapsed != "" {
		if _, err := time.ParseDuration(s.Expect.MinElapsed); err != nil {
			return fmt.Errorf("expect.min_elapsed: %w", err)
		}
	}
	channels := make(map[string]ChannelExpectation, len(s.Expect.Channels))
	for key, ce := range s.Expect.Channels {
		kind, err := model.ParseChannelKind(key)
		if err != nil {
			return fmt.Errorf("expect.channels.%s: %w", key, err)
		}
		if ce.Status != "" {
			st, err := model.ParseStatus(ce.Status)
			if err != nil {
				return fmt.Errorf("expect.channels.%s.status: %w", key, err)
			}
			ce.Status = string(st)
		}
		channels[string(kind)] = ce
	}
	s.Expect.Channels = channels
	return nil
}

// retryPolicy applies the scenario's overrides to the default policy.
func (p Policy) retryPolicy() (engine.RetryPolicy, error) {
	policy := engine.DefaultRetryPolicy()
	if p.MaxAttempts != 0 {
		policy.MaxAttempts = p.MaxAttempts
	}
	if p.BaseDelay != "" {
		d, err := time.ParseDuration(p.BaseDelay)
		if err != nil {
			return policy, fmt.Errorf("policy.base_delay: %w", err)
		}
		policy.BaseDelay = d
	}
	if p.MaxDelay != "" {
		d, err := time.ParseDuration(p.MaxDelay)
		if err != nil {
			return policy, fmt.Errorf("policy.max_delay: %w", err)
		}
		policy.MaxDelay = d
	}
	return policy, nil
}

// request converts the submission into an engine request.
func (s Submission) request() (model.CreateRequest, error) {
	req := model.CreateRequest{
		Type:    model.OperationType(s.Type),
		IsAsync: s.Async,
	}
	var err error
	if req.Metadata, err = marshalOptional(s.Metadata); err != nil {
		return req, fmt.Errorf("submit.metadata: %w", err)
	}
	if req.Payload, err = marshalOptional(s.Payload); err != nil {
		return req, fmt.Errorf("submit.payload: %w", err)
	}
	for i, ch := range s.Channels {
		payload, err := marshalOptional(ch.Payload)
		if err != nil {
			return req, fmt.Errorf("submit.channels[%d].payload: %w", i, err)
		}
		req.Targets = append(req.Targets, model.Target{Kind: model.ChannelKind(ch.Channel), Payload: payload})
	}
	return req, nil
}

func marshalOptional(v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
