package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// Message is one line written by the JSONHandler.
type Message struct {
	Type      string                   `json:"type"`
	ThreadID  string                   `json:"thread_id,omitempty"`
	Status    domain.Status            `json:"status,omitempty"`
	Answer    string                   `json:"answer,omitempty"`
	Interrupt *domain.InterruptRequest `json:"interrupt,omitempty"`
	Message   string                   `json:"message,omitempty"`
}

const (
	MessageAnswer    = "answer"
	MessageInterrupt = "interrupt"
	MessageSystem    = "system"
)

// JSONHandler implements IOHandler over JSON Lines. Inputs are either a
// JSON object ({"input": ...} for messages, {"value": ...} for interrupt
// answers), a JSON string, or raw text.
type JSONHandler struct {
	Reader *bufio.Reader

	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) emit(m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.encoder.Encode(m)
}

func (h *JSONHandler) readLine() (string, error) {
	for {
		text, err := h.Reader.ReadString('\n')
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (h *JSONHandler) Input(_ context.Context) (string, error) {
	line, err := h.readLine()
	if err != nil {
		return "", err
	}
	var obj struct {
		Input string `json:"input"`
	}
	if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &obj) == nil {
		line = obj.Input
	} else {
		var s string
		if json.Unmarshal([]byte(line), &s) == nil {
			line = s
		}
	}
	return SanitizeInput(line)
}

func (h *JSONHandler) Ask(_ context.Context, req domain.InterruptRequest) (any, error) {
	if err := h.emit(Message{Type: MessageInterrupt, Interrupt: &req}); err != nil {
		return nil, err
	}
	line, err := h.readLine()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return line, nil
	}
	if obj, ok := v.(map[string]any); ok {
		if value, ok := obj["value"]; ok {
			return value, nil
		}
	}
	return v, nil
}

func (h *JSONHandler) Answer(_ context.Context, res *ports.Result) error {
	if err := h.emit(Message{
		Type:     MessageAnswer,
		ThreadID: res.ThreadID,
		Status:   res.Status,
		Answer:   res.Answer,
	}); err != nil {
		return fmt.Errorf("runner: write answer: %w", err)
	}
	return nil
}

func (h *JSONHandler) SystemOutput(_ context.Context, msg string) error {
	return h.emit(Message{Type: MessageSystem, Message: msg})
}
