package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// Runner handles the conversation loop against an Orchestrator using the
// provided IOHandler.
type Runner struct {
	orch     ports.Orchestrator
	handler  IOHandler
	threadID string
	userID   string
	logger   *slog.Logger
}

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithHandler configures the IO strategy. Defaults to a TextHandler on
// Stdin/Stdout.
func WithHandler(h IOHandler) Option {
	return func(r *Runner) {
		r.handler = h
	}
}

// WithThreadID continues an existing thread. A thread left suspended by an
// earlier session is resumed before the first new message is read.
func WithThreadID(id string) Option {
	return func(r *Runner) {
		r.threadID = id
	}
}

func WithUserID(id string) Option {
	return func(r *Runner) {
		r.userID = id
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(orch ports.Orchestrator, opts ...Option) *Runner {
	r := &Runner{
		orch:   orch,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.handler == nil {
		r.handler = NewTextHandler(nil, nil)
	}
	return r
}

// ThreadID reports the thread the runner is attached to. It is assigned
// by the orchestrator on the first turn when none was configured.
func (r *Runner) ThreadID() string { return r.threadID }

// Run reads messages until the input ends, the user types /exit or ctx is
// cancelled. Turn failures are reported to the handler and the loop
// continues.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.resumePending(ctx); err != nil {
		return err
	}
	for {
		text, err := r.handler.Input(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrInputTooLarge) || errors.Is(err, ErrInvalidUTF8) {
				_ = r.handler.SystemOutput(ctx, err.Error())
				continue
			}
			return fmt.Errorf("runner: read input: %w", err)
		}
		switch strings.TrimSpace(text) {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		res, err := r.orch.Invoke(ctx, ports.Request{ThreadID: r.threadID, UserID: r.userID, Input: text})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.ErrorContext(ctx, "turn failed", "thread_id", r.threadID, "err", err)
			_ = r.handler.SystemOutput(ctx, err.Error())
			continue
		}
		r.threadID = res.ThreadID
		if err := r.settle(ctx, res); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Runner) resumePending(ctx context.Context) error {
	if r.threadID == "" {
		return nil
	}
	state, err := r.orch.Thread(ctx, r.threadID)
	if errors.Is(err, domain.ErrThreadNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("runner: load thread: %w", err)
	}
	if state.Status != domain.StatusSuspended || state.Pending == nil {
		return nil
	}
	req := state.Pending.Request
	err = r.settle(ctx, &ports.Result{ThreadID: r.threadID, Status: state.Status, Interrupt: &req})
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return err
}

// settle answers interrupts until the turn produces a final answer.
func (r *Runner) settle(ctx context.Context, res *ports.Result) error {
	for res.Status == domain.StatusSuspended && res.Interrupt != nil {
		value, err := r.handler.Ask(ctx, *res.Interrupt)
		if err != nil {
			return err
		}
		next, err := r.orch.Resume(ctx, ports.ResumeRequest{
			ThreadID: res.ThreadID,
			Name:     res.Interrupt.Name,
			Value:    value,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "resume failed", "thread_id", res.ThreadID, "err", err)
			return r.handler.SystemOutput(ctx, err.Error())
		}
		res = next
	}
	return r.handler.Answer(ctx, res)
}
