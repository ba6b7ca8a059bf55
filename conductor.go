package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/internal/runtime"
	"github.com/aretw0/conductor/pkg/adapters/memory"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/session"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Engine is the high-level entry point: it owns the checkpoint store and
// the per-thread lock, and drives the runtime for each request.
type Engine struct {
	runtime  *runtime.Engine
	registry *registry.Registry
	sessions *session.Manager
	store    ports.StateStore
	locker   ports.DistributedLocker
	lockTTL  time.Duration
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	limits   domain.Limits
	tracer   trace.TracerProvider
	entry    string
	errNode  string
}

var _ ports.Orchestrator = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the checkpoint store (default: in memory).
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker coordinates threads across replicas sharing one store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLockTTL bounds how long a single turn may hold a thread lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLimits sets the guardrail caps copied onto new threads.
func WithLimits(limits domain.Limits) Option {
	return func(e *Engine) {
		e.limits = limits
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp
	}
}

// WithEntryNode overrides the stage new turns start at (default: the
// first registered stage).
func WithEntryNode(name string) Option {
	return func(e *Engine) {
		e.entry = name
	}
}

// WithErrorNode sets the stage failed stages are routed to. It defaults to
// the final answer stage when one is registered.
func WithErrorNode(name string) Option {
	return func(e *Engine) {
		e.errNode = name
	}
}

// New creates an Engine over a populated registry. The registry is sealed.
func New(reg *registry.Registry, opts ...Option) (*Engine, error) {
	if reg == nil || len(reg.Members()) == 0 {
		return nil, fmt.Errorf("registry has no stages")
	}
	e := &Engine{
		registry: reg,
		store:    memory.NewStore(),
		logger:   logging.NewNop(),
		limits:   domain.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.limits = e.limits.WithDefaults()
	if e.errNode == "" {
		if _, ok := reg.Resolve(stages.FinalAnswer); ok {
			e.errNode = stages.FinalAnswer
		}
	}
	for _, name := range []string{e.entry, e.errNode} {
		if name == "" {
			continue
		}
		if _, ok := reg.Resolve(name); !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNode, name)
		}
	}
	reg.Seal()

	runtimeOpts := []runtime.EngineOption{
		runtime.WithStore(e.store),
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(e.hooks),
		runtime.WithLimits(e.limits),
		runtime.WithDefaultErrorNode(e.errNode),
	}
	if e.entry != "" {
		runtimeOpts = append(runtimeOpts, runtime.WithEntryNode(e.entry))
	}
	if e.tracer != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithTracerProvider(e.tracer))
	}
	e.runtime = runtime.NewEngine(reg, runtimeOpts...)

	sessionOpts := []session.Option{session.WithLogger(e.logger), session.WithLockTTL(e.lockTTL)}
	if e.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(e.locker))
	}
	e.sessions = session.NewManager(e.store, sessionOpts...)
	return e, nil
}

// NewPipeline registers the standard stages described by cfg on a fresh
// registry and wraps it in an Engine. Hooks, limits and logger set in cfg
// are shared with the engine unless overridden by opts.
func NewPipeline(cfg stages.PipelineConfig, opts ...Option) (*Engine, error) {
	reg := registry.New()
	if err := stages.Register(reg, cfg); err != nil {
		return nil, err
	}
	base := []Option{WithLifecycleHooks(cfg.Hooks), WithLimits(cfg.Limits)}
	if cfg.Logger != nil {
		base = append(base, WithLogger(cfg.Logger))
	}
	return New(reg, append(base, opts...)...)
}

// Invoke starts a new turn. An empty ThreadID opens a new thread.
// Invoking a suspended thread fails with domain.ErrThreadSuspended.
func (e *Engine) Invoke(ctx context.Context, req ports.Request) (*ports.Result, error) {
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	var final *domain.State
	err := e.sessions.WithLock(ctx, req.ThreadID, func(ctx context.Context) error {
		state, err := e.sessions.LoadOrCreateLocked(ctx, req.ThreadID, e.limits)
		if err != nil {
			return err
		}
		final, err = e.runtime.Start(ctx, state, req.UserID, req.Input)
		return err
	})
	return e.result(final, err)
}

// Resume delivers the human value for the interrupt a thread is waiting on.
func (e *Engine) Resume(ctx context.Context, req ports.ResumeRequest) (*ports.Result, error) {
	var final *domain.State
	err := e.sessions.WithLock(ctx, req.ThreadID, func(ctx context.Context) error {
		state, err := e.store.Load(ctx, req.ThreadID)
		if err != nil {
			return err
		}
		final, err = e.runtime.Resume(ctx, state, req.Name, req.Value)
		return err
	})
	return e.result(final, err)
}

func (e *Engine) result(state *domain.State, err error) (*ports.Result, error) {
	if state == nil {
		return nil, err
	}
	res := &ports.Result{
		ThreadID: state.ThreadID,
		Status:   state.Status,
		State:    state,
	}
	switch {
	case state.Status == domain.StatusSuspended && state.Pending != nil:
		req := state.Pending.Request
		res.Interrupt = &req
	case state.Status == domain.StatusTerminated:
		res.Answer = state.Answer
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		e.logger.Error("turn failed", "thread_id", state.ThreadID, "err", err)
	}
	return res, err
}

// Thread returns the latest checkpoint of a thread.
func (e *Engine) Thread(ctx context.Context, threadID string) (*domain.State, error) {
	return e.sessions.Load(ctx, threadID)
}

// Threads lists stored thread IDs.
func (e *Engine) Threads(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Delete removes a thread and its checkpoint.
func (e *Engine) Delete(ctx context.Context, threadID string) error {
	return e.sessions.Delete(ctx, threadID)
}

// Nodes describes the registered stages in registration order.
func (e *Engine) Nodes() []ports.NodeInfo {
	names := e.registry.Members()
	nodes := make([]ports.NodeInfo, 0, len(names))
	for _, name := range names {
		spec, _ := e.registry.Resolve(name)
		nodes = append(nodes, ports.NodeInfo{
			Name:        spec.Name,
			Kind:        string(spec.Kind),
			Description: spec.RoutingDescription,
		})
	}
	return nodes
}

// Registry returns the sealed stage registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// EntryNode returns the stage new turns start at.
func (e *Engine) EntryNode() string {
	return e.runtime.EntryNode()
}
