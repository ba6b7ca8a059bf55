package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStageEnter EventType = "stage_enter"
	EventStageLeave EventType = "stage_leave"
	EventToolCall   EventType = "tool_call"
	EventToolReturn EventType = "tool_return"
	EventSuspend    EventType = "suspend"
	EventResume     EventType = "resume"
	EventFallback   EventType = "fallback"
	EventGuardrail  EventType = "guardrail"
	EventFinal      EventType = "final"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ThreadID  string    `json:"thread_id"`
}

// StageEvent represents entry into or exit from a stage.
type StageEvent struct {
	EventBase
	Stage       string        `json:"stage"`
	Kind        string        `json:"kind"`
	Destination string        `json:"destination,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Err         string        `json:"err,omitempty"`
}

// ToolEvent represents a tool execution.
type ToolEvent struct {
	EventBase
	Stage    string `json:"stage"`
	ToolName string `json:"tool_name"`
	CallID   string `json:"call_id"`
	Input    any    `json:"input,omitempty"`
	Output   any    `json:"output,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
}

// InterruptEvent is emitted when a thread suspends or resumes.
type InterruptEvent struct {
	EventBase
	Stage   string           `json:"stage"`
	Request InterruptRequest `json:"request"`
	Value   any              `json:"value,omitempty"`
}

// FallbackEvent records a routing decision replaced by a safe fallback.
type FallbackEvent struct {
	EventBase
	Stage    string `json:"stage"`
	Raw      string `json:"raw"`
	Fallback string `json:"fallback"`
	Reason   string `json:"reason"`
}

// GuardrailEvent records a bounded counter reaching its cap.
type GuardrailEvent struct {
	EventBase
	Stage   string `json:"stage"`
	Counter string `json:"counter"`
	Value   int    `json:"value"`
	Limit   int    `json:"limit"`
}

// FinalEvent is emitted when a turn produces its user-facing answer.
type FinalEvent struct {
	EventBase
	Answer string `json:"answer"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStageEnter func(context.Context, *StageEvent)
	OnStageLeave func(context.Context, *StageEvent)
	OnToolCall   func(context.Context, *ToolEvent)
	OnToolReturn func(context.Context, *ToolEvent)
	OnSuspend    func(context.Context, *InterruptEvent)
	OnResume     func(context.Context, *InterruptEvent)
	OnFallback   func(context.Context, *FallbackEvent)
	OnGuardrail  func(context.Context, *GuardrailEvent)
	OnFinal      func(context.Context, *FinalEvent)
}

// NewBase stamps an event header.
func NewBase(t EventType, threadID string) EventBase {
	return EventBase{Timestamp: time.Now(), Type: t, ThreadID: threadID}
}

// MergeHooks fans each callback out to every non-nil hook in order.
func MergeHooks(hooks ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStageEnter: fanout(hooks, func(h LifecycleHooks) func(context.Context, *StageEvent) { return h.OnStageEnter }),
		OnStageLeave: fanout(hooks, func(h LifecycleHooks) func(context.Context, *StageEvent) { return h.OnStageLeave }),
		OnToolCall:   fanout(hooks, func(h LifecycleHooks) func(context.Context, *ToolEvent) { return h.OnToolCall }),
		OnToolReturn: fanout(hooks, func(h LifecycleHooks) func(context.Context, *ToolEvent) { return h.OnToolReturn }),
		OnSuspend:    fanout(hooks, func(h LifecycleHooks) func(context.Context, *InterruptEvent) { return h.OnSuspend }),
		OnResume:     fanout(hooks, func(h LifecycleHooks) func(context.Context, *InterruptEvent) { return h.OnResume }),
		OnFallback:   fanout(hooks, func(h LifecycleHooks) func(context.Context, *FallbackEvent) { return h.OnFallback }),
		OnGuardrail:  fanout(hooks, func(h LifecycleHooks) func(context.Context, *GuardrailEvent) { return h.OnGuardrail }),
		OnFinal:      fanout(hooks, func(h LifecycleHooks) func(context.Context, *FinalEvent) { return h.OnFinal }),
	}
}

func fanout[E any](hooks []LifecycleHooks, pick func(LifecycleHooks) func(context.Context, E)) func(context.Context, E) {
	var fns []func(context.Context, E)
	for _, h := range hooks {
		if fn := pick(h); fn != nil {
			fns = append(fns, fn)
		}
	}
	if len(fns) == 0 {
		return nil
	}
	return func(ctx context.Context, e E) {
		for _, fn := range fns {
			fn(ctx, e)
		}
	}
}

// Emit invokes fn when it is set.
func Emit[E any](ctx context.Context, fn func(context.Context, E), e E) {
	if fn != nil {
		fn(ctx, e)
	}
}
