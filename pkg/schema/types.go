package schema

import (
	"fmt"
	"math"
	"reflect"
)

// Type validates a single argument value.
type Type interface {
	// Name returns the JSON schema type name (e.g. "string", "integer").
	Name() string
	Validate(value any) error
}

type StringType struct{}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

// IntType accepts Go integers and whole float64 values, which is how JSON
// decodes numbers.
type IntType struct{}

func (t *IntType) Name() string { return "integer" }

func (t *IntType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return nil
		}
		return fmt.Errorf("expected integer, got float (not a whole number)")
	default:
		return fmt.Errorf("expected integer, got %T", value)
	}
}

type FloatType struct{}

func (t *FloatType) Name() string { return "number" }

func (t *FloatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return nil
	default:
		return fmt.Errorf("expected number, got %T", value)
	}
}

type BoolType struct{}

func (t *BoolType) Name() string { return "boolean" }

func (t *BoolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected boolean, got %T", value)
	}
	return nil
}

// SliceType validates arrays whose elements all match one type.
type SliceType struct {
	elemType Type
}

func (t *SliceType) Name() string { return "array" }

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected array, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elemType.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

type ObjectType struct{}

func (t *ObjectType) Name() string { return "object" }

func (t *ObjectType) Validate(value any) error {
	if _, ok := value.(map[string]any); !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	return nil
}

// AnyType accepts every value, including nil.
type AnyType struct{}

func (t *AnyType) Name() string { return "any" }

func (t *AnyType) Validate(any) error { return nil }

// EnumType restricts a string to a fixed set.
type EnumType struct {
	values []string
}

func (t *EnumType) Name() string { return "string" }

func (t *EnumType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	for _, v := range t.values {
		if v == s {
			return nil
		}
	}
	return fmt.Errorf("%q is not one of %v", s, t.values)
}

func String() Type { return &StringType{} }

func Int() Type { return &IntType{} }

func Float() Type { return &FloatType{} }

func Bool() Type { return &BoolType{} }

func Object() Type { return &ObjectType{} }

func Any() Type { return &AnyType{} }

// Slice creates an array validator for elements of the given type.
func Slice(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// Enum creates a validator accepting only the given strings.
func Enum(values ...string) Type {
	return &EnumType{values: values}
}

// ParseType converts one JSON schema property into a Type.
func ParseType(prop map[string]any) (Type, error) {
	if values, ok := prop["enum"].([]string); ok {
		return Enum(values...), nil
	}
	if raw, ok := prop["enum"].([]any); ok {
		values := make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("enum values must be strings, got %T", v)
			}
			values = append(values, s)
		}
		return Enum(values...), nil
	}

	name, _ := prop["type"].(string)
	switch name {
	case "":
		return Any(), nil
	case "string":
		return String(), nil
	case "integer":
		return Int(), nil
	case "number":
		return Float(), nil
	case "boolean":
		return Bool(), nil
	case "object":
		return Object(), nil
	case "array":
		items, _ := prop["items"].(map[string]any)
		elem, err := ParseType(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		return Slice(elem), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", name)
	}
}
