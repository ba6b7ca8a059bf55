package schema

import (
	"fmt"
	"sort"

	"github.com/aretw0/conductor/pkg/ports"
)

// Schema maps argument names to their expected types.
type Schema map[string]Type

// FromParameters builds a Schema from a tool's JSON schema properties.
func FromParameters(params map[string]any) (Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	result := make(Schema, len(params))
	for key, raw := range params {
		prop, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parameter %s: expected an object, got %T", key, raw)
		}
		t, err := ParseType(prop)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}

// Validate checks that every required argument is present and that every
// argument the schema knows has the declared type. Extra arguments pass.
// All failures are reported together, in argument name order.
func Validate(s Schema, required []string, args map[string]any) error {
	var errs []error
	for _, key := range required {
		if _, ok := args[key]; !ok {
			errs = append(errs, &ValidationError{Key: key, Reason: "required"})
		}
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		t, ok := s[key]
		if !ok {
			continue
		}
		if err := t.Validate(args[key]); err != nil {
			errs = append(errs, &ValidationError{Key: key, Reason: err.Error(), Value: args[key]})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// ValidateArgs validates args against the parameters declared by spec.
// A spec with malformed parameters is reported as a validation failure.
func ValidateArgs(spec ports.ToolSpec, args map[string]any) error {
	s, err := FromParameters(spec.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", spec.Name, err)
	}
	return Validate(s, spec.Required, args)
}
