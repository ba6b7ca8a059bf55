package llm

import (
	"context"
	"fmt"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Decode copies decision fields into out using json tags. Scalars are weakly
// typed so "3" decodes into an int field.
func Decode(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(fields); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}

// Decide runs a structured decision and decodes it into T. The usage of the
// call is returned even when decoding fails.
func Decide[T any](ctx context.Context, m Model, req DecisionRequest) (T, domain.Usage, error) {
	var out T
	d, err := m.Decide(ctx, req)
	if err != nil {
		return out, nil, err
	}
	if d == nil || d.Fields == nil {
		return out, nil, ErrNoDecision
	}
	if err := Decode(d.Fields, &out); err != nil {
		return out, d.Usage, err
	}
	return out, d.Usage, nil
}

// Enum builds a string property restricted to choices.
func Enum(description string, choices ...string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        choices,
	}
}

// String builds a free string property.
func String(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// Bool builds a boolean property.
func Bool(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

// StringList builds an array-of-strings property.
func StringList(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       map[string]any{"type": "string"},
	}
}
