package ports

import (
	"context"

	"github.com/aretw0/conductor/pkg/domain"
)

// CapabilitySearcher retrieves candidate capabilities for a query.
// Implementations must be free of side effects.
type CapabilitySearcher interface {
	Search(ctx context.Context, query string, topK int) ([]domain.AgentInfo, error)
}
