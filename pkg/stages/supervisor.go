package stages

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/registry"
)

// SupervisorConfig declares a nested routing scope over a group of agents.
type SupervisorConfig struct {
	Name               string
	RoutingDescription string
	Members            []string
	// Parent receives BACK escalations. Defaults to the task dispatcher.
	Parent       string
	Instructions string
}

const supervisorPrompt = `You supervise the %s team.
%s
Current task: %s

Destinations:
%s

Pick a team member to work on the task. Pick NEXT_TASK if the conversation shows the task
is done. Pick BACK if no member can handle it.`

type supervisorDecision struct {
	Destination string `json:"destination"`
	Reason      string `json:"reason"`
}

// Supervisor routes within its members and escalates with BACK. BACK is
// bounded by back_count/max_back; past the bound the turn goes to the final
// answer. Member passes share the task's dispatch_retries budget.
type Supervisor struct {
	cfg  SupervisorConfig
	deps Deps
}

func NewSupervisor(cfg SupervisorConfig, deps Deps) *Supervisor {
	if cfg.Parent == "" {
		cfg.Parent = TaskDispatcher
	}
	return &Supervisor{cfg: cfg, deps: deps.withDefaults()}
}

// Spec returns the registry entry with BACK, NEXT_TASK and END routes.
func (s *Supervisor) Spec() registry.NodeSpec {
	return registry.NodeSpec{
		Name:               s.cfg.Name,
		Kind:               registry.KindSupervisor,
		Handler:            s,
		RoutingDescription: s.cfg.RoutingDescription,
		Routes: map[string]string{
			domain.Back:     s.cfg.Parent,
			domain.NextTask: TaskSelection,
			domain.End:      FinalAnswer,
		},
		Fallback: domain.Back,
		Targets:  s.choices(),
	}
}

func (s *Supervisor) choices() []string {
	return append(append([]string{}, s.cfg.Members...), domain.Back, domain.NextTask, domain.End)
}

func (s *Supervisor) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	if state.TaskStatus == domain.TaskCompleted {
		return command.Continue(domain.NextTask, command.SetDispatchRetries(0)), nil
	}

	limit := state.MaxDispatchRetries
	if limit <= 0 {
		limit = s.deps.Limits.MaxDispatchRetries
	}
	if state.DispatchRetries >= limit {
		s.deps.guardrail(ctx, state, s.cfg.Name, domain.GuardrailDispatch, state.DispatchRetries, limit)
		return s.back(ctx, state, nil), nil
	}

	choices := append(append([]string{}, s.cfg.Members...), domain.Back, domain.NextTask)
	d, usage, err := llm.Decide[supervisorDecision](ctx, s.deps.Model, llm.DecisionRequest{
		System:   fmt.Sprintf(supervisorPrompt, s.cfg.Name, s.cfg.Instructions, state.CurrentTask, routingBlock(s.deps.Registry, choices)),
		Messages: state.Messages,
		Schema: llm.Schema{
			Name:        "supervise_task",
			Description: "Choose which team member handles the task next.",
			Properties: map[string]any{
				"destination": llm.Enum("Next destination", choices...),
				"reason":      llm.String("One sentence explaining the choice"),
			},
			Required: []string{"destination"},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		s.deps.Logger.Warn("supervisor decision failed, escalating", "thread_id", state.ThreadID, "supervisor", s.cfg.Name, "err", err)
		return s.back(ctx, state, usage), nil
	}

	switch {
	case d.Destination == domain.Back:
		return s.back(ctx, state, usage), nil
	case d.Destination == domain.NextTask:
		return command.Continue(domain.NextTask, withUsage([]command.Update{command.SetDispatchRetries(0)}, usage)...), nil
	case slices.Contains(s.cfg.Members, d.Destination):
		return command.Continue(d.Destination, withUsage([]command.Update{
			command.SetDispatchRetries(state.DispatchRetries + 1),
			command.SetTaskStatus(domain.TaskInProgress),
		}, usage)...), nil
	}
	// BACK is the fallback; taking it here keeps max_back in force.
	s.deps.Logger.Warn("invalid supervisor choice, escalating", "thread_id", state.ThreadID, "supervisor", s.cfg.Name, "raw", d.Destination)
	return s.back(ctx, state, usage), nil
}

// back escalates to the parent, or ends the turn once max_back is reached.
func (s *Supervisor) back(ctx context.Context, state *domain.State, usage domain.Usage) command.Command {
	limit := state.MaxBack
	if limit <= 0 {
		limit = s.deps.Limits.MaxBack
	}
	if state.BackCount >= limit {
		s.deps.guardrail(ctx, state, s.cfg.Name, domain.GuardrailBack, state.BackCount, limit)
		return command.Continue(domain.End, withUsage(nil, usage)...)
	}
	return command.Continue(domain.Back, withUsage([]command.Update{
		command.SetBackCount(state.BackCount + 1),
	}, usage)...)
}
