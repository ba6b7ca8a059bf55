package ports

import (
	"context"

	"github.com/aretw0/conductor/pkg/domain"
)

// Request starts a new turn on a thread.
type Request struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	Input    string `json:"input"`
}

// ResumeRequest supplies the human value for a pending interrupt.
type ResumeRequest struct {
	ThreadID string `json:"thread_id"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
}

// Result is the outcome of a turn: either a final answer or a pending interrupt.
type Result struct {
	ThreadID  string                   `json:"thread_id"`
	Status    domain.Status            `json:"status"`
	Answer    string                   `json:"answer,omitempty"`
	Interrupt *domain.InterruptRequest `json:"interrupt,omitempty"`
	State     *domain.State            `json:"-"`
}

// NodeInfo is a read-only view of a registered stage.
type NodeInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Orchestrator is the interface transports (HTTP, MCP, CLI) drive.
type Orchestrator interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
	Resume(ctx context.Context, req ResumeRequest) (*Result, error)
	Thread(ctx context.Context, threadID string) (*domain.State, error)
	Threads(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, threadID string) error
	Nodes() []NodeInfo
}
