package runtime

import (
	"context"
	"time"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/registry"
)

func (e *Engine) emitStageEnter(ctx context.Context, state *domain.State, spec registry.NodeSpec) {
	domain.Emit(ctx, e.hooks.OnStageEnter, &domain.StageEvent{
		EventBase: domain.NewBase(domain.EventStageEnter, state.ThreadID),
		Stage:     spec.Name,
		Kind:      string(spec.Kind),
	})
}

func (e *Engine) emitStageLeave(ctx context.Context, state *domain.State, spec registry.NodeSpec, dest string, d time.Duration, err error) {
	ev := &domain.StageEvent{
		EventBase:   domain.NewBase(domain.EventStageLeave, state.ThreadID),
		Stage:       spec.Name,
		Kind:        string(spec.Kind),
		Destination: dest,
		Duration:    d,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	domain.Emit(ctx, e.hooks.OnStageLeave, ev)
}

func (e *Engine) emitSuspend(ctx context.Context, state *domain.State, stage string, req domain.InterruptRequest) {
	domain.Emit(ctx, e.hooks.OnSuspend, &domain.InterruptEvent{
		EventBase: domain.NewBase(domain.EventSuspend, state.ThreadID),
		Stage:     stage,
		Request:   req,
	})
}

func (e *Engine) emitResume(ctx context.Context, state *domain.State, pending *domain.PendingInterrupt, value any) {
	domain.Emit(ctx, e.hooks.OnResume, &domain.InterruptEvent{
		EventBase: domain.NewBase(domain.EventResume, state.ThreadID),
		Stage:     pending.Node,
		Request:   pending.Request,
		Value:     value,
	})
}

func (e *Engine) emitFallback(ctx context.Context, state *domain.State, stage, raw, fallback, reason string) {
	domain.Emit(ctx, e.hooks.OnFallback, &domain.FallbackEvent{
		EventBase: domain.NewBase(domain.EventFallback, state.ThreadID),
		Stage:     stage,
		Raw:       raw,
		Fallback:  fallback,
		Reason:    reason,
	})
}

func (e *Engine) emitGuardrail(ctx context.Context, state *domain.State, counter string, value, limit int) {
	domain.Emit(ctx, e.hooks.OnGuardrail, &domain.GuardrailEvent{
		EventBase: domain.NewBase(domain.EventGuardrail, state.ThreadID),
		Stage:     state.Node,
		Counter:   counter,
		Value:     value,
		Limit:     limit,
	})
}

func (e *Engine) emitFinal(ctx context.Context, state *domain.State) {
	domain.Emit(ctx, e.hooks.OnFinal, &domain.FinalEvent{
		EventBase: domain.NewBase(domain.EventFinal, state.ThreadID),
		Answer:    state.Answer,
	})
}
