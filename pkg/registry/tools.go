package registry

import (
	"fmt"
	"sync"

	"github.com/aretw0/conductor/pkg/ports"
)

// Toolset manages the tools available to one tool-agent.
type Toolset struct {
	mu    sync.RWMutex
	tools map[string]ports.Tool
	order []string
}

// NewToolset creates a toolset holding the given tools.
func NewToolset(tools ...ports.Tool) (*Toolset, error) {
	ts := &Toolset{tools: make(map[string]ports.Tool)}
	for _, t := range tools {
		if err := ts.Register(t); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// Register adds a tool. Duplicate names are rejected.
func (ts *Toolset) Register(t ports.Tool) error {
	name := t.Spec().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, exists := ts.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	ts.tools[name] = t
	ts.order = append(ts.order, name)
	return nil
}

// Get looks up a tool by name.
func (ts *Toolset) Get(name string) (ports.Tool, bool) {
	if ts == nil {
		return nil, false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (ts *Toolset) Names() []string {
	if ts == nil {
		return nil
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]string(nil), ts.order...)
}

// Specs returns the tool descriptions presented to the decision model.
func (ts *Toolset) Specs() []ports.ToolSpec {
	if ts == nil {
		return nil
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	specs := make([]ports.ToolSpec, 0, len(ts.order))
	for _, name := range ts.order {
		specs = append(specs, ts.tools[name].Spec())
	}
	return specs
}
