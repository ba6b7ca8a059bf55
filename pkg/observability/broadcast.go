package observability

import (
	"context"
	"sync"

	"github.com/aretw0/conductor/pkg/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Event is a lifecycle event as delivered to stream subscribers.
type Event struct {
	Type     domain.EventType `json:"type"`
	ThreadID string           `json:"thread_id"`
	Data     any              `json:"data"`
}

type subscriber struct {
	thread string
	ch     chan Event
}

// Broadcaster fans lifecycle events out to per-thread subscribers. A slow
// subscriber loses events instead of blocking the engine.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	buffer  int
	dropped func(Event)
}

// BroadcastOption configures a Broadcaster.
type BroadcastOption func(*Broadcaster)

// WithBuffer overrides DefaultBuffer.
func WithBuffer(n int) BroadcastOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHandler is called for every event a full subscriber misses.
func WithDropHandler(fn func(Event)) BroadcastOption {
	return func(b *Broadcaster) {
		b.dropped = fn
	}
}

func NewBroadcaster(opts ...BroadcastOption) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[*subscriber]struct{}),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel of events for threadID ("" receives every
// thread). The channel is closed when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, threadID string) <-chan Event {
	sub := &subscriber{thread: threadID, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch
}

// Subscribers reports the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.thread != "" && sub.thread != ev.ThreadID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.dropped != nil {
				b.dropped(ev)
			}
		}
	}
}

// Hooks publishes every lifecycle event.
func (b *Broadcaster) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageEnter: func(_ context.Context, e *domain.StageEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnStageLeave: func(_ context.Context, e *domain.StageEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnToolCall:   func(_ context.Context, e *domain.ToolEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnSuspend:    func(_ context.Context, e *domain.InterruptEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnResume:     func(_ context.Context, e *domain.InterruptEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnFallback:   func(_ context.Context, e *domain.FallbackEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnGuardrail:  func(_ context.Context, e *domain.GuardrailEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
		OnFinal:      func(_ context.Context, e *domain.FinalEvent) { b.Publish(Event{e.Type, e.ThreadID, e}) },
	}
}
