package runtime

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/registry"
)

// RoutingError describes a destination that cannot be dispatched.
type RoutingError struct {
	Stage  string
	Raw    string
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("invalid destination %q from stage %s: %s", e.Raw, e.Stage, e.Reason)
}

// ValidateDestination checks raw against the registry and the emitting stage's
// routing metadata. A valid result is either a registered stage or Terminal.
func ValidateDestination(reg *registry.Registry, spec registry.NodeSpec, raw string) (string, error) {
	if raw == "" {
		return "", &RoutingError{Stage: spec.Name, Raw: raw, Reason: "empty destination"}
	}
	if len(spec.Targets) > 0 && !slices.Contains(spec.Targets, raw) {
		return "", &RoutingError{Stage: spec.Name, Raw: raw, Reason: "not an allowed target"}
	}
	if domain.IsReserved(raw) {
		dest, ok := resolveSymbol(spec, raw)
		if !ok {
			return "", &RoutingError{Stage: spec.Name, Raw: raw, Reason: "symbol has no route"}
		}
		raw = dest
		if raw == domain.Terminal {
			return raw, nil
		}
	}
	if _, ok := reg.Resolve(raw); !ok {
		return "", &RoutingError{Stage: spec.Name, Raw: raw, Reason: "not a registered stage"}
	}
	return raw, nil
}

// FallbackFor returns the documented safe destination of a stage: its
// configured Fallback, or BACK for supervisors, or END otherwise.
func FallbackFor(spec registry.NodeSpec) string {
	if spec.Fallback != "" {
		return spec.Fallback
	}
	if spec.Kind == registry.KindSupervisor {
		return domain.Back
	}
	return domain.End
}

func resolveSymbol(spec registry.NodeSpec, symbol string) (string, bool) {
	if target, ok := spec.Routes[symbol]; ok && target != "" {
		return target, true
	}
	switch symbol {
	case domain.End, domain.Terminal:
		return domain.Terminal, true
	}
	return "", false
}

// route validates a stage's destination, substituting the fallback on error.
// It never returns an unresolved value.
func (e *Engine) route(ctx context.Context, state *domain.State, spec registry.NodeSpec, raw string) string {
	dest, err := ValidateDestination(e.registry, spec, raw)
	if err == nil {
		return dest
	}

	fallback := FallbackFor(spec)
	dest, ferr := ValidateDestination(e.registry, registry.NodeSpec{Name: spec.Name, Routes: spec.Routes}, fallback)
	if ferr != nil {
		dest = domain.Terminal
	}

	e.logger.Warn("routing fallback", "thread_id", state.ThreadID, "stage", spec.Name, "raw", raw, "fallback", fallback, "err", err)
	e.emitFallback(ctx, state, spec.Name, raw, fallback, err.Error())
	return dest
}
