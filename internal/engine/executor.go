package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/opsd/internal/model"
)

// Task is what an executor receives for one attempt: a snapshot of the
// owning operation and the claimed channel, including its payload.
type Task struct {
	Operation model.Operation
	Channel   model.Channel
}

// Attempt returns the 1-based number of the attempt being executed.
func (t Task) Attempt() int {
	return t.Channel.Attempts + 1
}

// Executor delivers one channel attempt. A nil error is success; a non-nil
// error is a failure whose message is recorded on the channel.
//
// Executors must tolerate being invoked again for the same channel: a
// retry, or a restart after a crash mid-attempt, re-runs the delivery.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task Task) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Validator is implemented by executors that can reject a target before
// anything is persisted.
type Validator interface {
	Validate(target model.Target) error
}

// Registry maps channel kinds and operation types to executors. Operation
// type entries serve the implicit channel.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	channels   map[model.ChannelKind]Executor
	operations map[model.OperationType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels:   make(map[model.ChannelKind]Executor),
		operations: make(map[model.OperationType]Executor),
	}
}

// RegisterChannel sets the executor for a channel kind, replacing any
// previous one.
func (r *Registry) RegisterChannel(kind model.ChannelKind, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[kind] = exec
}

// RegisterOperation sets the executor used for the implicit channel of
// operations of type t.
func (r *Registry) RegisterOperation(t model.OperationType, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[t] = exec
}

// ForChannel returns the executor registered for kind.
func (r *Registry) ForChannel(kind model.ChannelKind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.channels[kind]
	return exec, ok
}

// ForOperation returns the implicit-channel executor registered for t.
func (r *Registry) ForOperation(t model.OperationType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.operations[t]
	return exec, ok
}

// resolve picks the executor for a channel of op.
func (r *Registry) resolve(op model.Operation, ch model.Channel) (Executor, error) {
	if ch.Kind == model.ChannelImplicit {
		if exec, ok := r.ForOperation(op.Type); ok {
			return exec, nil
		}
		return nil, fmt.Errorf("no executor registered for operation type %q", op.Type)
	}
	if exec, ok := r.ForChannel(ch.Kind); ok {
		return exec, nil
	}
	return nil, fmt.Errorf("no executor registered for channel %q", ch.Kind)
}

// validate checks that every target of req has an executor and that the
// executor accepts it. req must already be structurally valid.
func (r *Registry) validate(req model.CreateRequest) error {
	if len(req.Targets) == 0 {
		exec, ok := r.ForOperation(req.Type)
		if !ok {
			return model.Validationf("no executor registered for operation type %q", req.Type)
		}
		if v, ok := exec.(Validator); ok {
			target := model.Target{Kind: model.ChannelImplicit, Payload: req.Payload}
			if err := v.Validate(target); err != nil {
				return validationError(string(req.Type), err)
			}
		}
		return nil
	}

	for i, t := range req.Targets {
		exec, ok := r.ForChannel(t.Kind)
		if !ok {
			return model.Validationf("channels[%d]: no executor registered for channel %q", i, t.Kind)
		}
		if v, ok := exec.(Validator); ok {
			if err := v.Validate(t); err != nil {
				return validationError(fmt.Sprintf("channels[%d] (%s)", i, t.Kind), err)
			}
		}
	}
	return nil
}
