package domain

import (
	"encoding/json"
	"fmt"
)

// InterruptType selects how the caller should collect the human value.
type InterruptType string

const (
	InterruptInputOption InterruptType = "input_option"
	InterruptInputField  InterruptType = "input_field"
	InterruptConnect     InterruptType = "connect"
)

// InterruptData carries the presentation payload of an interrupt.
type InterruptData struct {
	Title        string   `json:"title"`
	Content      any      `json:"content,omitempty"`
	Options      []string `json:"options,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// InterruptRequest asks the caller for a human-provided value.
type InterruptRequest struct {
	Name     string        `json:"name"`
	Type     InterruptType `json:"type"`
	Platform string        `json:"platform,omitempty"`
	Data     InterruptData `json:"data"`
}

// Validate checks the kind-specific fields of the request.
func (r InterruptRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidInterrupt)
	}
	switch r.Type {
	case InterruptInputOption:
		if len(r.Data.Options) == 0 {
			return fmt.Errorf("%w: %s requires options", ErrInvalidInterrupt, r.Type)
		}
	case InterruptConnect:
		if r.Platform == "" {
			return fmt.Errorf("%w: %s requires a platform", ErrInvalidInterrupt, r.Type)
		}
	case InterruptInputField:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInterrupt, r.Type)
	}
	return nil
}

// PendingInterrupt is persisted with a suspended thread. It identifies the
// waiting call site and carries the stage's continuation checkpoint.
type PendingInterrupt struct {
	ID         string           `json:"id"`
	Node       string           `json:"node"`
	Request    InterruptRequest `json:"request"`
	Checkpoint json.RawMessage  `json:"checkpoint,omitempty"`
}

// Resumption is handed to the suspended stage when a matching value arrives.
type Resumption struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Value      any             `json:"value"`
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`
}
