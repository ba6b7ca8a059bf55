package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Resumer is the part of ports.Orchestrator the worker drives.
type Resumer interface {
	Resume(ctx context.Context, req ports.ResumeRequest) (*ports.Result, error)
}

// Worker consumes ports.ResumeRequest messages and resumes the named
// threads. Turns on the same thread are serialized by the orchestrator.
type Worker struct {
	ch      Channel
	queue   string
	resumer Resumer
	workers int
	logger  *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkers sets the number of concurrent consumers (default 1).
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWorker(ch Channel, cfg Config, resumer Resumer, opts ...WorkerOption) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		ch:      ch,
		queue:   cfg.ResumeQueue,
		resumer: resumer,
		workers: 1,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes with manual acknowledgement until ctx is done or the
// delivery channel closes.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.ch.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", w.queue, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					w.handle(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) handle(ctx context.Context, msg amqp.Delivery) {
	var req ports.ResumeRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.ThreadID == "" {
		w.logger.WarnContext(ctx, "malformed resume request", "message_id", msg.MessageId, "err", err)
		_ = msg.Reject(false)
		return
	}

	res, err := w.resumer.Resume(ctx, req)
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "thread resumed", "thread_id", req.ThreadID, "status", res.Status)
		_ = msg.Ack(false)
	case ctx.Err() != nil:
		_ = msg.Nack(false, true)
	case permanent(err):
		w.logger.WarnContext(ctx, "resume request rejected", "thread_id", req.ThreadID, "err", err)
		_ = msg.Reject(false)
	default:
		w.logger.ErrorContext(ctx, "resume failed", "thread_id", req.ThreadID, "err", err)
		_ = msg.Nack(false, false)
	}
}

// permanent errors will fail again on redelivery.
func permanent(err error) bool {
	for _, target := range []error{
		domain.ErrThreadNotFound,
		domain.ErrNotSuspended,
		domain.ErrInterruptMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
