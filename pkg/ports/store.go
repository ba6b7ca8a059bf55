package ports

import (
	"context"

	"github.com/aretw0/conductor/pkg/domain"
)

// StateStore defines the interface for persisting thread checkpoints.
// A checkpoint is the last fully applied state of a thread and is the point
// a suspended thread resumes from.
type StateStore interface {
	// Save persists the state for a given thread ID, replacing any previous checkpoint.
	Save(ctx context.Context, threadID string, state *domain.State) error

	// Load retrieves the state for a given thread ID.
	// Returns domain.ErrThreadNotFound if the thread does not exist.
	Load(ctx context.Context, threadID string) (*domain.State, error)

	// Delete removes the state for a given thread ID.
	Delete(ctx context.Context, threadID string) error

	// List returns the IDs of all stored threads.
	List(ctx context.Context) ([]string, error)
}
