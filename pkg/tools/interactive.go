package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// AskUser asks a free-text question (input_field).
type AskUser struct{}

func (AskUser) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "ask_user",
		Description: "Ask the user a question and wait for a free-text answer. Use only when information needed for the task is missing.",
		Parameters: map[string]any{
			"question":    map[string]any{"type": "string", "description": "The question to ask"},
			"placeholder": map[string]any{"type": "string", "description": "Example answer shown in the input"},
		},
		Required: []string{"question"},
	}
}

type askArgs struct {
	Question    string `mapstructure:"question"`
	Placeholder string `mapstructure:"placeholder"`
}

func (AskUser) Call(_ context.Context, args map[string]any, _ domain.Caller) (ports.ToolResult, error) {
	var a askArgs
	if err := mapstructure.Decode(args, &a); err != nil {
		return ports.ToolResult{}, err
	}
	if a.Question == "" {
		return ports.ToolResult{}, fmt.Errorf("question is required")
	}
	return ports.ToolResult{Interrupt: &domain.InterruptRequest{
		Name: "ask_user",
		Type: domain.InterruptInputField,
		Data: domain.InterruptData{Title: a.Question, Placeholder: a.Placeholder},
	}}, nil
}

func (AskUser) Resume(_ context.Context, _ map[string]any, _ domain.Caller, value any) (ports.ToolResult, error) {
	answer := resumeText(value)
	if answer == "" {
		return ports.ToolResult{Output: domain.ToolOutput{Output: "the user gave no answer", Type: domain.OutputTypeText}}, nil
	}
	return ports.ToolResult{Output: domain.ToolOutput{Output: answer, Type: domain.OutputTypeText, Show: false}}, nil
}

// Choose asks the user to pick one of a fixed set of options (input_option).
type Choose struct{}

func (Choose) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "choose",
		Description: "Ask the user to pick exactly one of the given options and wait for the choice.",
		Parameters: map[string]any{
			"title":   map[string]any{"type": "string", "description": "What the user is choosing"},
			"options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		Required: []string{"title", "options"},
	}
}

type chooseArgs struct {
	Title   string   `mapstructure:"title"`
	Options []string `mapstructure:"options"`
}

func (Choose) Call(_ context.Context, args map[string]any, _ domain.Caller) (ports.ToolResult, error) {
	var a chooseArgs
	if err := mapstructure.Decode(args, &a); err != nil {
		return ports.ToolResult{}, err
	}
	if len(a.Options) == 0 {
		return ports.ToolResult{}, fmt.Errorf("options are required")
	}
	return ports.ToolResult{Interrupt: &domain.InterruptRequest{
		Name: "choose",
		Type: domain.InterruptInputOption,
		Data: domain.InterruptData{Title: a.Title, Options: a.Options},
	}}, nil
}

// Resume accepts only one of the offered options.
func (Choose) Resume(_ context.Context, args map[string]any, _ domain.Caller, value any) (ports.ToolResult, error) {
	var a chooseArgs
	if err := mapstructure.Decode(args, &a); err != nil {
		return ports.ToolResult{}, err
	}
	choice := resumeText(value)
	if !slices.Contains(a.Options, choice) {
		return ports.ToolResult{}, fmt.Errorf("%q is not one of the offered options", choice)
	}
	return ports.ToolResult{Output: domain.ToolOutput{Output: choice, Type: domain.OutputTypeText}}, nil
}

// Connect asks the user to link an external account (connect).
type Connect struct{}

func (Connect) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "connect_account",
		Description: "Ask the user to connect an external account on a platform before tools for that platform can be used.",
		Parameters: map[string]any{
			"platform": map[string]any{"type": "string", "description": "Platform identifier, e.g. gmail, sheets"},
			"reason":   map[string]any{"type": "string", "description": "Why the connection is needed"},
		},
		Required: []string{"platform"},
	}
}

type connectArgs struct {
	Platform string `mapstructure:"platform"`
	Reason   string `mapstructure:"reason"`
}

func (Connect) Call(_ context.Context, args map[string]any, _ domain.Caller) (ports.ToolResult, error) {
	var a connectArgs
	if err := mapstructure.Decode(args, &a); err != nil {
		return ports.ToolResult{}, err
	}
	if a.Platform == "" {
		return ports.ToolResult{}, fmt.Errorf("platform is required")
	}
	return ports.ToolResult{Interrupt: &domain.InterruptRequest{
		Name:     "connect_account",
		Type:     domain.InterruptConnect,
		Platform: a.Platform,
		Data: domain.InterruptData{
			Title:        "Connect your " + a.Platform + " account",
			Content:      a.Reason,
			ErrorMessage: "The " + a.Platform + " account could not be connected.",
		},
	}}, nil
}

// Resume reports whether the connection succeeded. Any truthy value counts.
func (Connect) Resume(_ context.Context, args map[string]any, _ domain.Caller, value any) (ports.ToolResult, error) {
	platform, _ := args["platform"].(string)
	connected := false
	switch v := value.(type) {
	case bool:
		connected = v
	case string:
		connected = v == "connected" || v == "true" || v == "yes"
	case map[string]any:
		connected, _ = v["connected"].(bool)
	}
	if !connected {
		return ports.ToolResult{Output: domain.ToolOutput{
			Output: platform + " account was not connected",
			Type:   domain.OutputTypeError,
			Show:   true,
		}}, nil
	}
	return ports.ToolResult{Output: domain.ToolOutput{Output: platform + " account connected", Type: domain.OutputTypeText, Show: true}}, nil
}

// Interactive returns every built-in interrupt tool.
func Interactive() []ports.Tool {
	return []ports.Tool{AskUser{}, Choose{}, Connect{}}
}

// resumeText is the text form of a resume value; nil reads as no answer.
func resumeText(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
