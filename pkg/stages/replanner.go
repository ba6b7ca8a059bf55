package stages

import (
	"context"
	"fmt"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/registry"
)

// Replanner actions.
const (
	ActionEnd    = "END"
	ActionReplan = "REPLAN"
)

const replannerPrompt = `You revise a plan after the last task could not be completed as planned.

Original request: %s

Task that stalled: %s

Remaining plan:
%s

Capabilities:
%s

Answer END if nothing useful is left to do. Otherwise answer REPLAN with the revised remaining
steps. You may reorder, merge or drop steps but never add goals the original request does not
ask for.`

var replanSchema = llm.Schema{
	Name:        "revise_plan",
	Description: "End the plan or replace the remaining steps.",
	Properties: map[string]any{
		"action": llm.Enum("END to stop, REPLAN to continue with new steps", ActionEnd, ActionReplan),
		"steps":  llm.StringList("Revised remaining steps when action is REPLAN"),
	},
	Required: []string{"action"},
}

type replanDecision struct {
	Action string   `json:"action"`
	Steps  []string `json:"steps"`
}

// ReplannerStage decides whether the remaining plan is worth continuing.
// An empty plan always ends; replanning is bounded by Limits.MaxReplans.
type ReplannerStage struct {
	deps Deps
}

func NewReplanner(deps Deps) *ReplannerStage {
	return &ReplannerStage{deps: deps.withDefaults()}
}

// Spec returns the registry entry routing END to the final answer.
func (s *ReplannerStage) Spec() registry.NodeSpec {
	return registry.NodeSpec{
		Name:               Replanner,
		Kind:               registry.KindPlanner,
		Handler:            s,
		RoutingDescription: "revises the remaining plan or ends it",
		Routes:             map[string]string{domain.End: FinalAnswer},
		Fallback:           domain.End,
		Targets:            []string{domain.End, TaskSelection},
	}
}

func (s *ReplannerStage) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	if len(state.Plans) == 0 {
		return command.Continue(domain.End), nil
	}
	if state.ReplanCount >= s.deps.Limits.MaxReplans {
		s.deps.guardrail(ctx, state, Replanner, domain.GuardrailReplan, state.ReplanCount, s.deps.Limits.MaxReplans)
		return command.Continue(domain.End), nil
	}

	objective := state.Objective
	if objective == "" {
		objective = state.Input
	}
	d, usage, err := llm.Decide[replanDecision](ctx, s.deps.Model, llm.DecisionRequest{
		System:   fmt.Sprintf(replannerPrompt, objective, state.CurrentTask, numbered(state.Plans), capabilityBlock(state.Agents)),
		Messages: state.Messages,
		Schema:   replanSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		s.deps.Logger.Warn("replan decision failed, ending", "thread_id", state.ThreadID, "err", err)
		return command.Continue(domain.End, withUsage(nil, usage)...), nil
	}

	steps := NormalizeSteps(d.Steps, s.deps.Limits.MaxPlanSteps)
	if d.Action != ActionReplan || len(steps) == 0 {
		return command.Continue(domain.End, withUsage(nil, usage)...), nil
	}
	s.deps.Logger.Info("plan revised", "thread_id", state.ThreadID, "steps", len(steps), "replan", state.ReplanCount+1)
	return command.Continue(TaskSelection, withUsage([]command.Update{
		command.SetPlans(steps),
		command.SetReplanCount(state.ReplanCount + 1),
	}, usage)...), nil
}
