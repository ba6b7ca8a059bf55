// Package registry maps stage names to executable handlers plus the routing
// metadata shown to decision models. A Registry is built once at startup,
// sealed, and shared read-only by every thread.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
)

// Kind classifies a stage.
type Kind string

const (
	KindStarter    Kind = "starter"
	KindPlanner    Kind = "planner"
	KindSupervisor Kind = "supervisor"
	KindAgent      Kind = "agent"
	KindTool       Kind = "tool"
)

// Handler executes one stage.
//
// resume is nil on a normal entry. When the thread was suspended inside this
// stage, resume carries the human value and the checkpoint the stage stored.
type Handler interface {
	Run(ctx context.Context, state *domain.State, resume *domain.Resumption) (command.Command, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, state *domain.State, resume *domain.Resumption) (command.Command, error)

func (f HandlerFunc) Run(ctx context.Context, state *domain.State, resume *domain.Resumption) (command.Command, error) {
	return f(ctx, state, resume)
}

// NodeSpec is immutable once registered.
type NodeSpec struct {
	Name               string
	Kind               Kind
	Handler            Handler
	RoutingDescription string

	// Routes resolves reserved symbols emitted by this stage to concrete stages.
	// An unmapped END terminates the turn.
	Routes map[string]string

	// Fallback is substituted for an invalid destination. Empty means terminal.
	Fallback string

	// Targets restricts the destinations this stage may emit. Empty means any
	// registered stage or reserved symbol.
	Targets []string
}

var (
	ErrDuplicateNode = errors.New("node already registered")
	ErrReservedName  = errors.New("name is a reserved routing symbol")
	ErrSealed        = errors.New("registry is sealed")
	ErrInvalidNode   = errors.New("invalid node spec")
)

// Registry is the flat name → NodeSpec mapping.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]NodeSpec
	order  []string
	sealed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]NodeSpec)}
}

// Register adds a stage. It fails on duplicate or reserved names and once the
// registry has been sealed.
func (r *Registry) Register(spec NodeSpec) error {
	if spec.Name == "" || spec.Handler == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidNode)
	}
	if domain.IsReserved(spec.Name) {
		return fmt.Errorf("%w: %s", ErrReservedName, spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.nodes[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, spec.Name)
	}
	r.nodes[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister is Register for startup code that cannot recover.
func (r *Registry) MustRegister(spec NodeSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve looks up a stage by name.
func (r *Registry) Resolve(name string) (NodeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.nodes[name]
	return spec, ok
}

// Members returns stage names in registration order.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Agents returns the registered capabilities (agent and supervisor stages).
func (r *Registry) Agents() []domain.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AgentInfo
	for _, name := range r.order {
		spec := r.nodes[name]
		if spec.Kind == KindAgent || spec.Kind == KindSupervisor {
			out = append(out, domain.AgentInfo{Name: spec.Name, Description: spec.RoutingDescription})
		}
	}
	return out
}

// RenderRoutingBlock renders "- name [kind]: description" lines for the given
// stages, or for every stage when names is empty. Reserved symbols render with
// the kind "control". Unknown names are skipped.
func (r *Registry) RenderRoutingBlock(names ...string) string {
	if len(names) == 0 {
		names = r.Members()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range names {
		if domain.IsReserved(name) {
			fmt.Fprintf(&b, "- %s [control]: %s\n", name, symbolDescriptions[name])
			continue
		}
		spec, ok := r.nodes[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", spec.Name, spec.Kind, spec.RoutingDescription)
	}
	return strings.TrimRight(b.String(), "\n")
}

var symbolDescriptions = map[string]string{
	domain.End:      "nothing left to do here, hand control back",
	domain.NextTask: "the current task is done, move to the next one",
	domain.Back:     "this scope cannot handle the task, escalate to the parent",
	domain.Terminal: "stop",
}
