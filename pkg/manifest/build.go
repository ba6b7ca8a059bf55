package manifest

import (
	"fmt"

	"github.com/aretw0/conductor/pkg/adapters/process"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/aretw0/conductor/pkg/tools"
)

// Build resolves the manifest into pipeline configuration. Tool names are
// looked up among the declared process tools, the built-in interactive
// tools and extra, in that order. An agent listed as a supervisor member
// without an explicit parent hands back to that supervisor.
func (m *Manifest) Build(extra ...ports.Tool) ([]stages.NodeConfig, []stages.SupervisorConfig, error) {
	available := map[string]ports.Tool{}
	for _, t := range extra {
		available[t.Spec().Name] = t
	}
	for _, t := range tools.Interactive() {
		available[t.Spec().Name] = t
	}
	procs, err := process.FromConfigs(m.Tools)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range procs {
		available[t.Spec().Name] = t
	}

	owner := map[string]string{}
	for _, s := range m.Supervisors {
		for _, member := range s.Members {
			if _, taken := owner[member]; !taken {
				owner[member] = s.Name
			}
		}
	}

	agents := make([]stages.NodeConfig, 0, len(m.Agents))
	for _, a := range m.Agents {
		list := make([]ports.Tool, 0, len(a.Tools))
		for _, name := range a.Tools {
			t, ok := available[name]
			if !ok {
				return nil, nil, fmt.Errorf("agent %s: unknown tool %s", a.Name, name)
			}
			list = append(list, t)
		}
		set, err := registry.NewToolset(list...)
		if err != nil {
			return nil, nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		parent := a.Parent
		if parent == "" {
			parent = owner[a.Name]
		}
		agents = append(agents, stages.NodeConfig{
			Name:               a.Name,
			RoutingDescription: a.Description,
			Tools:              set,
			Parent:             parent,
			Instructions:       a.Instructions,
			MaxRetries:         a.MaxRetries,
		})
	}

	supervisors := make([]stages.SupervisorConfig, 0, len(m.Supervisors))
	for _, s := range m.Supervisors {
		parent := s.Parent
		if parent == "" {
			parent = owner[s.Name]
		}
		supervisors = append(supervisors, stages.SupervisorConfig{
			Name:               s.Name,
			RoutingDescription: s.Description,
			Members:            s.Members,
			Parent:             parent,
			Instructions:       s.Instructions,
		})
	}
	return agents, supervisors, nil
}

// Pipeline fills the agent, supervisor and limit fields of base.
func (m *Manifest) Pipeline(base stages.PipelineConfig, extra ...ports.Tool) (stages.PipelineConfig, error) {
	agents, supervisors, err := m.Build(extra...)
	if err != nil {
		return base, err
	}
	base.Agents = append(base.Agents, agents...)
	base.Supervisors = append(base.Supervisors, supervisors...)
	if base.Limits == (domain.Limits{}) {
		base.Limits = m.Limits
	}
	return base, nil
}
