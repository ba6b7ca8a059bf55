package manifest

import (
	"fmt"
	"strings"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/schema"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/aretw0/conductor/pkg/tools"
)

var pipelineStages = []string{
	stages.IntentRouter, stages.CapabilityDiscovery, stages.Planner, stages.TaskSelection,
	stages.TaskDispatcher, stages.Replanner, stages.FinalAnswer,
}

// Validate checks names, references and supervisor nesting. Every problem
// found is reported, not just the first.
func (m *Manifest) Validate() error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	reserved := map[string]bool{}
	for _, s := range pipelineStages {
		reserved[s] = true
	}

	toolNames := map[string]bool{}
	for _, t := range tools.Interactive() {
		toolNames[t.Spec().Name] = true
	}
	for _, t := range m.Tools {
		if err := t.Validate(); err != nil {
			fail("%v", err)
			continue
		}
		if _, err := schema.FromParameters(t.Parameters); err != nil {
			fail("tool %q: %v", t.Name, err)
		}
		if toolNames[t.Name] {
			fail("tool %q is declared twice or shadows a built-in", t.Name)
		}
		toolNames[t.Name] = true
	}

	nodes := map[string]string{}
	declare := func(kind, name string) {
		switch {
		case name == "":
			fail("%s without a name", kind)
		case domain.IsReserved(name) || reserved[name]:
			fail("%s %q uses a reserved name", kind, name)
		case nodes[name] != "":
			fail("%s %q is already declared as a %s", kind, name, nodes[name])
		default:
			nodes[name] = kind
		}
	}
	for _, s := range m.Supervisors {
		declare("supervisor", s.Name)
	}
	for _, a := range m.Agents {
		declare("agent", a.Name)
	}

	parentOK := func(p string) bool {
		return p == "" || p == stages.TaskDispatcher || nodes[p] == "supervisor"
	}
	for _, a := range m.Agents {
		for _, t := range a.Tools {
			if !toolNames[t] {
				fail("agent %q: unknown tool %q", a.Name, t)
			}
		}
		if !parentOK(a.Parent) {
			fail("agent %q: parent %q is not a supervisor", a.Name, a.Parent)
		}
	}
	for _, s := range m.Supervisors {
		if len(s.Members) == 0 {
			fail("supervisor %q has no members", s.Name)
		}
		for _, member := range s.Members {
			if nodes[member] == "" {
				fail("supervisor %q: unknown member %q", s.Name, member)
			}
			if member == s.Name {
				fail("supervisor %q lists itself as a member", s.Name)
			}
		}
		if !parentOK(s.Parent) {
			fail("supervisor %q: parent %q is not a supervisor", s.Name, s.Parent)
		}
	}
	if cycle := m.memberCycle(); cycle != nil {
		fail("supervisor cycle: %s", strings.Join(cycle, " -> "))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid manifest, found %d errors:\n- %s", len(errs), strings.Join(errs, "\n- "))
	}
	return nil
}

// memberCycle walks supervisor membership breadth first from each
// supervisor and returns the first path that leads back to its start.
func (m *Manifest) memberCycle() []string {
	members := map[string][]string{}
	for _, s := range m.Supervisors {
		members[s.Name] = s.Members
	}
	for _, s := range m.Supervisors {
		type hop struct {
			name string
			path []string
		}
		visited := map[string]bool{}
		queue := []hop{{s.Name, []string{s.Name}}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range members[cur.name] {
				path := append(append([]string(nil), cur.path...), next)
				if next == s.Name && len(path) > 2 {
					return path
				}
				if visited[next] {
					continue
				}
				visited[next] = true
				queue = append(queue, hop{next, path})
			}
		}
	}
	return nil
}
