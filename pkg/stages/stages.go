// Package stages implements the standard pipeline: intent routing, capability
// discovery, planning, task selection, dispatch, tool agents, supervisors,
// replanning and the final answer.
//
// Every stage is a registry.Handler. Decision-model failures never escape a
// stage: each one maps to a documented safe decision so a thread always
// reaches a terminal state.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/registry"
)

// Stage names of the standard pipeline.
const (
	IntentRouter        = "intent_router"
	CapabilityDiscovery = "capability_discovery"
	Planner             = "planner"
	TaskSelection       = "task_selection"
	TaskDispatcher      = "task_dispatcher"
	Replanner           = "replanner"
	FinalAnswer         = "final_answer"
)

// Deps are the collaborators shared by every stage.
type Deps struct {
	Model    llm.Model
	Registry *registry.Registry
	Logger   *slog.Logger
	Hooks    domain.LifecycleHooks
	Limits   domain.Limits
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Registry == nil {
		d.Registry = registry.New()
	}
	d.Limits = d.Limits.WithDefaults()
	return d
}

func (d Deps) guardrail(ctx context.Context, state *domain.State, stage, counter string, value, limit int) {
	d.Logger.Warn("guardrail reached", "thread_id", state.ThreadID, "stage", stage, "counter", counter, "value", value, "limit", limit)
	domain.Emit(ctx, d.Hooks.OnGuardrail, &domain.GuardrailEvent{
		EventBase: domain.NewBase(domain.EventGuardrail, state.ThreadID),
		Stage:     stage,
		Counter:   counter,
		Value:     value,
		Limit:     limit,
	})
}

// withUsage appends a usage update when the model reported any.
func withUsage(updates []command.Update, usage domain.Usage) []command.Update {
	if len(usage) == 0 {
		return updates
	}
	return append(updates, command.AddUsage(usage))
}

// agentChoices returns the capabilities a router may pick from: the ones
// discovery selected, or every registered capability when none were.
func agentChoices(reg *registry.Registry, state *domain.State) []string {
	var names []string
	for _, a := range state.Agents {
		if spec, ok := reg.Resolve(a.Name); ok && isCapability(spec.Kind) {
			names = append(names, a.Name)
		}
	}
	if len(names) > 0 {
		return names
	}
	return registeredAgents(reg)
}

func registeredAgents(reg *registry.Registry) []string {
	var names []string
	for _, a := range reg.Agents() {
		names = append(names, a.Name)
	}
	return names
}

// isStage reports whether name is a registered stage rather than a symbol or
// an unknown value. Unknown values are left to the engine's fallback.
func isStage(reg *registry.Registry, name string) bool {
	_, ok := reg.Resolve(name)
	return ok
}

func isCapability(k registry.Kind) bool {
	return k == registry.KindAgent || k == registry.KindSupervisor
}

func routingBlock(reg *registry.Registry, names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return reg.RenderRoutingBlock(names...)
}

func capabilityBlock(agents []domain.AgentInfo) string {
	if len(agents) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, a := range agents {
		b.WriteString("- ")
		b.WriteString(a.Name)
		b.WriteString(": ")
		b.WriteString(a.Description)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	return strings.TrimRight(b.String(), "\n")
}
