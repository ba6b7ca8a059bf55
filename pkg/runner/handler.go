package runner

import (
	"context"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (CLI/TUI) and JSON (Structured) modes.
type IOHandler interface {
	// Input reads the next user message. io.EOF ends the conversation.
	Input(ctx context.Context) (string, error)

	// Ask collects the human value for a pending interrupt.
	Ask(ctx context.Context, req domain.InterruptRequest) (any, error)

	// Answer presents the outcome of a completed turn.
	Answer(ctx context.Context, res *ports.Result) error

	// SystemOutput presents a meta-message (errors, status) distinct from
	// conversation content.
	SystemOutput(ctx context.Context, msg string) error
}

// ContentRenderer transforms answer text before it is written, e.g.
// markdown to ANSI.
type ContentRenderer func(string) (string, error)
