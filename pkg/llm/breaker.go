package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker guarding the model.
type BreakerSettings struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// Breaker wraps a Model with a circuit breaker. While open, calls fail fast
// with gobreaker.ErrOpenState and stages fall back to their safe defaults.
type Breaker struct {
	next Model
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker guards next with a circuit breaker.
func NewBreaker(next Model, name string, s BreakerSettings, logger *slog.Logger) *Breaker {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 60 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.Warn("model circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Chat(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ChatResponse), nil
}

func (b *Breaker) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Decide(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Decision), nil
}
