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

const dispatcherPrompt = `You route the current task to the capability that should perform it.

Current task: %s

Remaining plan:
%s

Destinations:
%s

Pick NEXT_TASK only if the conversation shows the current task is already done. Pick END if
no destination can make progress on it.`

type dispatchDecision struct {
	Destination string `json:"destination"`
	Reason      string `json:"reason"`
}

// DispatcherStage is the central router of the plan loop.
//
// A completed task advances deterministically. Every other pass counts
// against dispatch_retries; once the cap is reached the task is handed to
// the replanner instead of looping.
type DispatcherStage struct {
	deps Deps
}

func NewDispatcher(deps Deps) *DispatcherStage {
	return &DispatcherStage{deps: deps.withDefaults()}
}

// Spec returns the registry entry with the dispatcher's symbol routes.
func (s *DispatcherStage) Spec() registry.NodeSpec {
	return registry.NodeSpec{
		Name:               TaskDispatcher,
		Kind:               registry.KindPlanner,
		Handler:            s,
		RoutingDescription: "routes the current task to a capability",
		Routes: map[string]string{
			domain.End:      Replanner,
			domain.NextTask: TaskSelection,
		},
		Fallback: domain.End,
	}
}

func (s *DispatcherStage) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	if state.TaskStatus == domain.TaskCompleted {
		return command.Continue(domain.NextTask, command.SetDispatchRetries(0)), nil
	}
	if state.CurrentTask == domain.NoTasksLeft {
		return command.Continue(Replanner), nil
	}

	limit := state.MaxDispatchRetries
	if limit <= 0 {
		limit = s.deps.Limits.MaxDispatchRetries
	}
	if state.DispatchRetries >= limit {
		s.deps.guardrail(ctx, state, TaskDispatcher, domain.GuardrailDispatch, state.DispatchRetries, limit)
		return command.Continue(Replanner, command.SetDispatchRetries(0)), nil
	}

	updates := []command.Update{command.SetDispatchRetries(state.DispatchRetries + 1)}
	agents := agentChoices(s.deps.Registry, state)
	choices := append(append([]string{}, agents...), domain.End, domain.NextTask)

	d, usage, err := llm.Decide[dispatchDecision](ctx, s.deps.Model, llm.DecisionRequest{
		System:   fmt.Sprintf(dispatcherPrompt, state.CurrentTask, numbered(state.Plans), routingBlock(s.deps.Registry, choices)),
		Messages: state.Messages,
		Schema: llm.Schema{
			Name:        "dispatch_task",
			Description: "Choose where the current task goes next.",
			Properties: map[string]any{
				"destination": llm.Enum("Next destination", choices...),
				"reason":      llm.String("One sentence explaining the choice"),
			},
			Required: []string{"destination"},
		},
	})
	updates = withUsage(updates, usage)
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		s.deps.Logger.Warn("dispatch decision failed, ending task", "thread_id", state.ThreadID, "task", state.CurrentTask, "err", err)
		return command.Continue(domain.End, updates...), nil
	}

	if isStage(s.deps.Registry, d.Destination) && !slices.Contains(choices, d.Destination) {
		s.deps.Logger.Warn("dispatch picked a stage outside its choices, ending task", "thread_id", state.ThreadID, "destination", d.Destination)
		return command.Continue(domain.End, updates...), nil
	}
	s.deps.Logger.Debug("task dispatched", "thread_id", state.ThreadID, "task", state.CurrentTask, "destination", d.Destination, "reason", d.Reason)
	if d.Destination != domain.End && d.Destination != domain.NextTask {
		updates = append(updates, command.SetTaskStatus(domain.TaskInProgress))
	}
	return command.Continue(d.Destination, updates...), nil
}
