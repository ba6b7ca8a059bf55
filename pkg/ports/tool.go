package ports

import (
	"context"

	"github.com/aretw0/conductor/pkg/domain"
)

// ToolSpec describes a tool to the decision model.
type ToolSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Required    []string       `json:"required,omitempty" yaml:"required,omitempty"`
}

// ToolResult is what a tool call produces: either an output envelope or a
// request for human input.
type ToolResult struct {
	Output    domain.ToolOutput
	Interrupt *domain.InterruptRequest
}

// Tool is the boundary to a concrete tool implementation.
// Failures should be reported inside the envelope; a returned error is
// converted into one by the executor.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, args map[string]any, caller domain.Caller) (ToolResult, error)
}

// ResumableTool is a tool with an explicit continuation phase. Resume is
// called with the human-provided value after the tool's Call returned an
// interrupt. A tool without a continuation phase returns the value verbatim.
type ResumableTool interface {
	Tool
	Resume(ctx context.Context, args map[string]any, caller domain.Caller, value any) (ToolResult, error)
}
