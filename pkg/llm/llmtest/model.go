// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
)

// Model replays queued responses. Decisions are queued per schema name and
// chat turns in a single FIFO. An empty queue behaves like a failing model.
type Model struct {
	mu        sync.Mutex
	decisions map[string][]step
	chats     []chatStep

	// Recorded calls, in order.
	DecideCalls []llm.DecisionRequest
	ChatCalls   []llm.ChatRequest
}

type step struct {
	fields map[string]any
	err    error
}

type chatStep struct {
	resp llm.ChatResponse
	err  error
}

// New creates an empty script.
func New() *Model {
	return &Model{decisions: make(map[string][]step)}
}

// Decision queues a structured answer for the named schema.
func (m *Model) Decision(schema string, fields map[string]any) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[schema] = append(m.decisions[schema], step{fields: fields})
	return m
}

// DecisionError queues a failure for the named schema.
func (m *Model) DecisionError(schema string, err error) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[schema] = append(m.decisions[schema], step{err: err})
	return m
}

// Reply queues a plain assistant turn.
func (m *Model) Reply(content string) *Model {
	return m.ChatResponse(llm.ChatResponse{Content: content})
}

// ToolCalls queues an assistant turn requesting tools.
func (m *Model) ToolCalls(calls ...domain.ToolCall) *Model {
	return m.ChatResponse(llm.ChatResponse{ToolCalls: calls})
}

// ChatResponse queues a complete assistant turn.
func (m *Model) ChatResponse(resp llm.ChatResponse) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, chatStep{resp: resp})
	return m
}

// ChatError queues a failing chat turn.
func (m *Model) ChatError(err error) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, chatStep{err: err})
	return m
}

// Pending reports how many scripted responses were not consumed.
func (m *Model) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.chats)
	for _, q := range m.decisions {
		n += len(q)
	}
	return n
}

func (m *Model) Decide(_ context.Context, req llm.DecisionRequest) (*llm.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DecideCalls = append(m.DecideCalls, req)

	q := m.decisions[req.Schema.Name]
	if len(q) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted decision for %s", req.Schema.Name)
	}
	next := q[0]
	m.decisions[req.Schema.Name] = q[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.Decision{Fields: next.fields, Usage: domain.Usage{domain.UsageCalls: 1}}, nil
}

func (m *Model) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatCalls = append(m.ChatCalls, req)

	if len(m.chats) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted chat response")
	}
	next := m.chats[0]
	m.chats = m.chats[1:]
	if next.err != nil {
		return nil, next.err
	}
	resp := next.resp
	if resp.Usage == nil {
		resp.Usage = domain.Usage{domain.UsageCalls: 1}
	}
	return &resp, nil
}
