package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
)

const plannerPrompt = `Break the request into the smallest number of atomic steps.

Request: %s

Available capabilities:
%s

Rules:
- each step names the capability that performs it
- do not add actions the user did not ask for
- do not split a step that one capability can do in one go`

var planSchema = llm.Schema{
	Name:        "plan_steps",
	Description: "Ordered list of atomic steps.",
	Properties: map[string]any{
		"steps": llm.StringList("Steps in execution order"),
	},
	Required: []string{"steps"},
}

type planDecision struct {
	Steps []string `json:"steps"`
}

// PlannerStage turns the objective into the plan queue.
type PlannerStage struct {
	deps Deps
}

func NewPlanner(deps Deps) *PlannerStage {
	return &PlannerStage{deps: deps.withDefaults()}
}

func (s *PlannerStage) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	objective := state.Objective
	if objective == "" {
		objective = state.Input
	}

	d, usage, err := llm.Decide[planDecision](ctx, s.deps.Model, llm.DecisionRequest{
		System:   fmt.Sprintf(plannerPrompt, objective, capabilityBlock(state.Agents)),
		Messages: state.Messages,
		Schema:   planSchema,
	})
	if err != nil && ctx.Err() != nil {
		return command.Command{}, ctx.Err()
	}

	steps := NormalizeSteps(d.Steps, s.deps.Limits.MaxPlanSteps)
	if err != nil || len(steps) == 0 {
		s.deps.Logger.Warn("planning failed, using the objective as the only step", "thread_id", state.ThreadID, "err", err)
		steps = []string{objective}
	}
	s.checkSteps(state, steps)

	return command.Continue(TaskSelection, withUsage([]command.Update{
		command.SetPlans(steps),
	}, usage)...), nil
}

// checkSteps logs steps that name none of the selected capabilities.
func (s *PlannerStage) checkSteps(state *domain.State, steps []string) {
	if len(state.Agents) == 0 {
		return
	}
	for _, step := range steps {
		lower := strings.ToLower(step)
		named := false
		for _, a := range state.Agents {
			if strings.Contains(lower, strings.ToLower(a.Name)) {
				named = true
				break
			}
		}
		if !named {
			s.deps.Logger.Warn("plan step names no capability", "thread_id", state.ThreadID, "step", step)
		}
	}
}

// NormalizeSteps trims steps, drops blanks and case-insensitive duplicates,
// and keeps at most limit entries.
func NormalizeSteps(steps []string, limit int) []string {
	out := make([]string, 0, len(steps))
	seen := make(map[string]bool)
	for _, step := range steps {
		step = strings.TrimSpace(step)
		key := strings.ToLower(step)
		if step == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, step)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
