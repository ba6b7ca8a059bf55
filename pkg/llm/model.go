// Package llm defines the decision-model port used by every stage, the
// Anthropic implementation, and helpers for structured decisions.
package llm

import (
	"context"
	"errors"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// ErrNoDecision is returned when the model did not produce the requested structure.
var ErrNoDecision = errors.New("model returned no decision")

// ErrEmptyTranscript is returned when a request carries no user or assistant
// turn to send.
var ErrEmptyTranscript = errors.New("no messages to send")

// ChatRequest asks for a free-form assistant turn, optionally with tools.
type ChatRequest struct {
	System    string
	Messages  []domain.Message
	Tools     []ports.ToolSpec
	MaxTokens int
}

// ChatResponse is an assistant turn. ToolCalls is non-empty when the model
// wants tools executed.
type ChatResponse struct {
	Content   string
	ToolCalls []domain.ToolCall
	Usage     domain.Usage
}

// Schema describes a structured decision as a JSON object schema.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// DecisionRequest asks for a value conforming to Schema.
type DecisionRequest struct {
	System   string
	Prompt   string
	Messages []domain.Message
	Schema   Schema
}

// Decision is the raw structured output of the model.
type Decision struct {
	Fields map[string]any
	Usage  domain.Usage
}

// Model is the decision model.
type Model interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
}
