package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aretw0/conductor/internal/runtime"

// Engine drives a thread through the registered stages.
//
// The engine holds no per-thread state: every call receives the thread's
// State and returns the next one. Callers serialize calls per thread.
type Engine struct {
	registry  *registry.Registry
	store     ports.StateStore
	logger    *slog.Logger
	hooks     domain.LifecycleHooks
	tracer    trace.Tracer
	limits    domain.Limits
	entryNode string
	errorNode string
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithStore persists a checkpoint after every applied command and at every
// suspension.
func WithStore(store ports.StateStore) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithLimits sets the guardrail caps.
func WithLimits(limits domain.Limits) EngineOption {
	return func(e *Engine) {
		e.limits = limits.WithDefaults()
	}
}

// WithEntryNode configures the stage a new turn starts at.
func WithEntryNode(name string) EngineOption {
	return func(e *Engine) {
		e.entryNode = name
	}
}

// WithDefaultErrorNode sets the stage that failed stages are routed to.
func WithDefaultErrorNode(name string) EngineOption {
	return func(e *Engine) {
		e.errorNode = name
	}
}

// NewEngine creates an engine over a registry.
func NewEngine(reg *registry.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: reg,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(tracerName),
		limits:   domain.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.entryNode == "" {
		if members := reg.Members(); len(members) > 0 {
			e.entryNode = members[0]
		}
	}
	return e
}

// EntryNode returns the stage new turns start at.
func (e *Engine) EntryNode() string {
	return e.entryNode
}

// Registry returns the registry the engine dispatches over.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Start begins a new turn on an idle thread and runs it until it terminates
// or suspends.
func (e *Engine) Start(ctx context.Context, state *domain.State, userID, input string) (*domain.State, error) {
	if state.Status == domain.StatusSuspended {
		return state, domain.ErrThreadSuspended
	}
	next := state.Clone()
	next.BeginTurn(userID, input, e.entryNode)
	return e.Run(ctx, next)
}

// Run dispatches stages until the thread terminates, suspends, or ctx is done.
// On cancellation it returns the last fully applied state with ctx's error.
func (e *Engine) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	return e.loop(ctx, state, nil)
}

// Resume delivers value to the interrupt the thread is suspended on and
// continues execution from the suspended stage.
func (e *Engine) Resume(ctx context.Context, state *domain.State, name string, value any) (*domain.State, error) {
	if state.Status != domain.StatusSuspended || state.Pending == nil {
		return state, domain.ErrNotSuspended
	}
	pending := state.Pending
	if pending.Request.Name != name {
		return state, fmt.Errorf("%w: waiting for %q, got %q", domain.ErrInterruptMismatch, pending.Request.Name, name)
	}

	resume := &domain.Resumption{
		ID:         pending.ID,
		Name:       name,
		Value:      value,
		Checkpoint: pending.Checkpoint,
	}

	next := state.Clone()
	next.Status = domain.StatusActive
	next.Node = pending.Node
	next.Pending = nil
	// the stage is recorded again once it completes
	if n := len(next.History); n > 0 && next.History[n-1] == pending.Node {
		next.History = next.History[:n-1]
	}

	e.logger.Info("thread resumed", "thread_id", state.ThreadID, "stage", pending.Node, "interrupt", name)
	e.emitResume(ctx, next, pending, value)

	return e.loop(ctx, next, resume)
}

func (e *Engine) loop(ctx context.Context, state *domain.State, resume *domain.Resumption) (*domain.State, error) {
	current := state
	exhausted := false

	for current.Status == domain.StatusActive {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		// a resumed stage always receives its value, whatever the budget
		if resume == nil && current.Steps >= e.limits.MaxSteps && current.Node != e.errorNode {
			e.emitGuardrail(ctx, current, domain.GuardrailSteps, current.Steps, e.limits.MaxSteps)
			if e.errorNode == "" || exhausted {
				e.logger.Warn("step budget exhausted, terminating", "thread_id", current.ThreadID, "steps", current.Steps)
				return e.terminate(ctx, current, domain.FinalFallbackMessage)
			}
			e.logger.Warn("step budget exhausted, routing to error node", "thread_id", current.ThreadID, "steps", current.Steps)
			exhausted = true
			current = current.Clone()
			current.Node = e.errorNode
			continue
		}

		next, err := e.step(ctx, current, resume)
		resume = nil
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}

// step runs one stage and applies its command.
func (e *Engine) step(ctx context.Context, state *domain.State, resume *domain.Resumption) (*domain.State, error) {
	spec, ok := e.registry.Resolve(state.Node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNode, state.Node)
	}

	ctx, span := e.tracer.Start(ctx, "stage "+spec.Name, trace.WithAttributes(
		attribute.String("conductor.thread_id", state.ThreadID),
		attribute.String("conductor.stage", spec.Name),
		attribute.String("conductor.kind", string(spec.Kind)),
		attribute.Bool("conductor.resumed", resume != nil),
	))
	defer span.End()

	e.emitStageEnter(ctx, state, spec)
	start := time.Now()

	cmd, err := spec.Handler.Run(ctx, state.Clone(), resume)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.emitStageLeave(ctx, state, spec, "", time.Since(start), err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.fail(ctx, state, spec, err)
	}

	if cmd.IsSuspend() {
		e.emitStageLeave(ctx, state, spec, "", time.Since(start), nil)
		return e.suspend(ctx, state, spec, cmd)
	}

	dest := e.route(ctx, state, spec, cmd.Goto)
	span.SetAttributes(attribute.String("conductor.destination", dest))

	next, err := command.Apply(state, cmd.Updates)
	if err != nil {
		span.RecordError(err)
		e.emitStageLeave(ctx, state, spec, dest, time.Since(start), err)
		return e.fail(ctx, state, spec, err)
	}
	e.advance(next, spec.Name, dest)

	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	e.emitStageLeave(ctx, next, spec, dest, time.Since(start), nil)
	if next.Status == domain.StatusTerminated && next.Answer != "" {
		e.emitFinal(ctx, next)
	}
	return next, nil
}

func (e *Engine) advance(next *domain.State, from, dest string) {
	next.Steps++
	next.History = append(next.History, from)
	if dest == domain.Terminal {
		next.Status = domain.StatusTerminated
		next.Node = ""
		return
	}
	next.Node = dest
}

func (e *Engine) suspend(ctx context.Context, state *domain.State, spec registry.NodeSpec, cmd command.Command) (*domain.State, error) {
	req := *cmd.Interrupt
	if err := req.Validate(); err != nil {
		return e.fail(ctx, state, spec, err)
	}

	next := state.Clone()
	next.Steps++
	next.History = append(next.History, spec.Name)
	next.Status = domain.StatusSuspended
	next.Pending = &domain.PendingInterrupt{
		ID:         uuid.NewString(),
		Node:       spec.Name,
		Request:    req,
		Checkpoint: cmd.Checkpoint,
	}

	if err := e.save(ctx, next); err != nil {
		return nil, err
	}

	e.logger.Info("thread suspended", "thread_id", next.ThreadID, "stage", spec.Name, "interrupt", req.Name, "type", req.Type)
	e.emitSuspend(ctx, next, spec.Name, req)
	return next, nil
}

// fail routes a failed stage to the error node. A failing error node ends the
// turn with a canned answer so callers never see a raw fault.
func (e *Engine) fail(ctx context.Context, state *domain.State, spec registry.NodeSpec, cause error) (*domain.State, error) {
	e.logger.Error("stage failed", "thread_id", state.ThreadID, "stage", spec.Name, "err", cause)

	if e.errorNode == "" {
		return nil, &UnhandledStageError{Stage: spec.Name, Cause: cause}
	}
	if spec.Name == e.errorNode {
		return e.terminate(ctx, state, domain.FinalFallbackMessage)
	}

	next := state.Clone()
	e.advance(next, spec.Name, e.errorNode)
	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (e *Engine) terminate(ctx context.Context, state *domain.State, answer string) (*domain.State, error) {
	next, err := command.Apply(state, []command.Update{
		command.SetAnswer(answer),
		command.AppendMessages(domain.AssistantMessage(e.errorNode, answer)),
	})
	if err != nil {
		return nil, err
	}
	next.Status = domain.StatusTerminated
	next.Node = ""
	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	e.emitFinal(ctx, next)
	return next, nil
}

// save writes a checkpoint. The write is detached from ctx so that a
// disconnecting caller cannot leave a torn checkpoint behind.
func (e *Engine) save(ctx context.Context, state *domain.State) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(context.WithoutCancel(ctx), state.ThreadID, state); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
