// Package tools holds the built-in tools and the wrapper that keeps tool
// failures inside the output envelope.
package tools

import (
	"context"
	"fmt"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// ErrorOutput builds the error-shaped envelope for a failure.
func ErrorOutput(err error) domain.ToolOutput {
	return domain.ToolOutput{Output: "error: " + err.Error(), Type: domain.OutputTypeError}
}

// Call runs one tool phase. Errors and panics come back as error envelopes;
// the returned error is always nil so nothing crosses the tool boundary.
func Call(ctx context.Context, t ports.Tool, args map[string]any, caller domain.Caller) ports.ToolResult {
	return guard(func() (ports.ToolResult, error) {
		return t.Call(ctx, args, caller)
	})
}

// Resume runs the continuation phase of a tool with the human value. Tools
// without a continuation phase receive the value verbatim as their output.
func Resume(ctx context.Context, t ports.Tool, args map[string]any, caller domain.Caller, value any) ports.ToolResult {
	rt, ok := t.(ports.ResumableTool)
	if !ok {
		return ports.ToolResult{Output: domain.ToolOutput{Output: value, Type: domain.OutputTypeResume}}
	}
	return guard(func() (ports.ToolResult, error) {
		return rt.Resume(ctx, args, caller, value)
	})
}

func guard(fn func() (ports.ToolResult, error)) (res ports.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ports.ToolResult{Output: ErrorOutput(fmt.Errorf("tool panicked: %v", r))}
		}
	}()
	out, err := fn()
	if err != nil {
		return ports.ToolResult{Output: ErrorOutput(err)}
	}
	if out.Interrupt == nil && out.Output.Type == "" {
		out.Output.Type = domain.OutputTypeText
	}
	return out
}

// Safe wraps t so that neither phase ever returns an error or panics.
func Safe(t ports.Tool) ports.ResumableTool {
	return safeTool{inner: t}
}

type safeTool struct {
	inner ports.Tool
}

func (s safeTool) Spec() ports.ToolSpec { return s.inner.Spec() }

func (s safeTool) Call(ctx context.Context, args map[string]any, caller domain.Caller) (ports.ToolResult, error) {
	return Call(ctx, s.inner, args, caller), nil
}

func (s safeTool) Resume(ctx context.Context, args map[string]any, caller domain.Caller, value any) (ports.ToolResult, error) {
	return Resume(ctx, s.inner, args, caller, value), nil
}
