package command

import (
	"fmt"

	"github.com/aretw0/conductor/pkg/domain"
)

// Apply merges updates into a copy of state. The input is never mutated.
// Updates are applied in order; the first invalid update aborts the merge.
func Apply(state *domain.State, updates []Update) (*domain.State, error) {
	next := state.Clone()
	for _, u := range updates {
		if err := applyOne(next, u); err != nil {
			return nil, fmt.Errorf("apply %s: %w", u, err)
		}
	}
	return next, nil
}

func applyOne(s *domain.State, u Update) error {
	rule, ok := rules[u.Field]
	if !ok {
		return ErrUnknownField
	}
	if u.Op != rule {
		return fmt.Errorf("%w: %s is %s", ErrMergeRule, u.Field, rule)
	}

	var ok2 bool
	switch u.Field {
	case FieldInput:
		s.Input, ok2 = u.Value.(string)
	case FieldObjective:
		s.Objective, ok2 = u.Value.(string)
	case FieldCurrentTask:
		s.CurrentTask, ok2 = u.Value.(string)
	case FieldAnswer:
		s.Answer, ok2 = u.Value.(string)
	case FieldTaskStatus:
		s.TaskStatus, ok2 = u.Value.(domain.TaskStatus)
	case FieldPlans:
		var plans []string
		if plans, ok2 = u.Value.([]string); ok2 {
			s.Plans = append([]string{}, plans...)
		}
	case FieldMessages:
		var msgs []domain.Message
		if msgs, ok2 = u.Value.([]domain.Message); ok2 {
			s.Messages = append(s.Messages, msgs...)
		}
	case FieldAgents:
		var agents []domain.AgentInfo
		if agents, ok2 = u.Value.([]domain.AgentInfo); ok2 {
			s.Agents = append([]domain.AgentInfo(nil), agents...)
		}
	case FieldToolOutput:
		var out domain.ToolOutput
		if out, ok2 = u.Value.(domain.ToolOutput); ok2 {
			s.ToolOutput = &out
		}
	case FieldUsages:
		var usage domain.Usage
		if usage, ok2 = u.Value.(domain.Usage); ok2 {
			s.Usages = s.Usages.Add(usage)
		}
	default:
		var n int
		if n, ok2 = u.Value.(int); ok2 {
			*counter(s, u.Field) = n
		}
	}
	if !ok2 {
		return fmt.Errorf("%w: %s got %T", ErrUpdateType, u.Field, u.Value)
	}
	return nil
}

func counter(s *domain.State, f Field) *int {
	switch f {
	case FieldBackCount:
		return &s.BackCount
	case FieldMaxBack:
		return &s.MaxBack
	case FieldDispatchRetries:
		return &s.DispatchRetries
	case FieldMaxDispatchRetries:
		return &s.MaxDispatchRetries
	case FieldAgentSearchCount:
		return &s.AgentSearchCount
	case FieldAgentRetries:
		return &s.AgentRetries
	case FieldReplanCount:
		return &s.ReplanCount
	}
	panic("command: no counter for field " + string(f))
}
