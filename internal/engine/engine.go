package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/opsd/internal/model"
	"github.com/roach88/opsd/internal/store"
)

// Defaults for the worker pool and scheduler.
const (
	DefaultWorkers      = 4
	DefaultPollInterval = 500 * time.Millisecond
	DefaultBatchSize    = 100
)

// Store is the persistence contract the engine relies on.
// Implemented by *store.Store.
type Store interface {
	CreateOperationWithChannels(ctx context.Context, op model.Operation, chs []model.Channel) (*model.OperationView, error)
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	GetOperationView(ctx context.Context, id string) (*model.OperationView, error)
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	ListOperations(ctx context.Context, filter model.Filter, page, pageSize int) (model.Page, error)
	UpdateOperationStatus(ctx context.Context, id string, status model.Status, errMsg string) (*model.Operation, error)
	UpdateChannelStatus(ctx context.Context, id string, status model.Status, errMsg string) (*model.Channel, *model.Operation, error)
	ClaimChannel(ctx context.Context, id string) (*model.Channel, *model.Operation, error)
	ApplyAttempt(ctx context.Context, id string, decide store.DecideFunc) (*model.Channel, *model.Operation, error)
	ListDueChannels(ctx context.Context, now time.Time, limit int) ([]model.Channel, error)
	NextDueAt(ctx context.Context) (time.Time, bool, error)
	ReleaseRunningChannels(ctx context.Context) (int, error)
	CountOpenOperations(ctx context.Context) (int, error)
}

var _ Store = (*store.Store)(nil)

// Engine coordinates operation submission, channel execution and retries.
//
// Thread-safety model:
//   - Submit, GetOperation, ListOperations: safe from any goroutine
//   - Start/Stop/Shutdown: lifecycle, call once each
//   - Drain: standalone recovery; do not call while Start is running
type Engine struct {
	store    Store
	registry *Registry
	policy   RetryPolicy
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger

	workers      int
	pollInterval time.Duration
	batchSize    int

	queue *opQueue

	mu       sync.Mutex
	inflight map[string]struct{}
	stranded map[string]time.Time // claim time of channels whose release failed
	handles  map[string]*Handle
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the retry policy.
func WithPolicy(p RetryPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithWorkers sets the async worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithPollInterval sets how often the scheduler scans for due channels.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// WithBatchSize caps how many due channels one scheduler scan reads.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		e.batchSize = n
	}
}

// WithClock sets the clock. Configure the store with the same Now.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the id source for operations and channels.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over s, dispatching to executors in reg.
func New(s Store, reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		registry:     reg,
		policy:       DefaultRetryPolicy(),
		clock:        SystemClock{},
		ids:          UUIDv7Generator{},
		logger:       slog.Default(),
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
		queue:        newOpQueue(),
		inflight:     make(map[string]struct{}),
		stranded:     make(map[string]time.Time),
		handles:      make(map[string]*Handle),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	e.policy = e.policy.normalize()
	return e
}

// Policy returns the effective retry policy.
func (e *Engine) Policy() RetryPolicy {
	return e.policy
}

// Registry returns the executor registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Submit validates and persists a request, then runs it.
//
// Sync requests block until the operation is terminal; the returned handle
// is already done. Async requests return as soon as the pending records
// are persisted; the handle completes when a worker observes the
// operation reach a terminal state.
//
// Errors: VALIDATION (nothing persisted), STORE, or the context's error if
// ctx ends while a sync operation is still running. Executor failures are
// never returned; they are recorded on the operation.
func (e *Engine) Submit(ctx context.Context, req model.CreateRequest) (*Handle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalized()
	if err := e.registry.validate(req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped && req.IsAsync {
		return nil, ErrStopped
	}

	op, chs := e.newRecords(req)
	e.markInflight(op.ID)

	view, err := e.store.CreateOperationWithChannels(ctx, op, chs)
	if err != nil {
		e.releaseInflight(op.ID)
		return nil, err
	}

	log := e.logger.With("operation_id", view.ID, "operation_type", view.Type, "async", view.IsAsync)
	log.Info("operation created", "channels", len(view.Channels))

	if req.IsAsync {
		h := e.trackHandle(view.ID)
		if !e.queue.Enqueue(view.ID) {
			// Stopped between the check and here; the scheduler of the next
			// process picks the records up.
			e.releaseInflight(view.ID)
		}
		return h, nil
	}

	defer e.releaseInflight(view.ID)
	if err := e.runSync(ctx, view); err != nil {
		return nil, err
	}
	return newFinishedHandle(e, view.ID, false), nil
}

// Execute submits req and waits for the operation to become terminal.
// For async requests this requires a started engine.
func (e *Engine) Execute(ctx context.Context, req model.CreateRequest) (*model.OperationView, error) {
	h, err := e.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// GetOperation returns an operation and its channels, or NOT_FOUND.
func (e *Engine) GetOperation(ctx context.Context, id string) (*model.OperationView, error) {
	return e.store.GetOperationView(ctx, id)
}

// ListOperations returns one page of operations, newest first.
func (e *Engine) ListOperations(ctx context.Context, filter model.Filter, page, pageSize int) (model.Page, error) {
	return e.store.ListOperations(ctx, filter, page, pageSize)
}

// OpenOperations returns how many operations are pending or running in the
// store, across every process sharing it.
func (e *Engine) OpenOperations(ctx context.Context) (int, error) {
	return e.store.CountOpenOperations(ctx)
}

// newRecords builds the pending operation and its channels. A request
// without targets gets one implicit channel carrying req.Payload.
func (e *Engine) newRecords(req model.CreateRequest) (model.Operation, []model.Channel) {
	now := e.clock.Now().UTC()
	op := model.Operation{
		ID:        e.ids.Generate(),
		Type:      req.Type,
		Status:    model.StatusPending,
		IsAsync:   req.IsAsync,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	targets := req.Targets
	if len(targets) == 0 {
		targets = []model.Target{{Kind: model.ChannelImplicit, Payload: req.Payload}}
	}

	chs := make([]model.Channel, 0, len(targets))
	for i, t := range targets {
		// Distinct created_at keeps creation order stable without relying
		// on the id tie-break.
		at := now.Add(time.Duration(i))
		chs = append(chs, model.Channel{
			ID:            e.ids.Generate(),
			OperationID:   op.ID,
			Kind:          t.Kind,
			Status:        model.StatusPending,
			Payload:       t.Payload,
			NextAttemptAt: at,
			CreatedAt:     at,
			UpdatedAt:     at,
		})
	}
	return op, chs
}

func (e *Engine) markInflight(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[id] = struct{}{}
}

// tryMarkInflight adds id to the in-flight set and reports whether it was
// absent.
func (e *Engine) tryMarkInflight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[id]; ok {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) releaseInflight(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

// isInflight reports whether id is queued or executing in this process.
func (e *Engine) isInflight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[id]
	return ok
}
