package stages

import (
	"context"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
)

// TaskSelectionStage pops the head of the plan queue into current_task and
// resets the per-task guardrail counters. An empty queue yields the
// NoTasksLeft sentinel. It always hands over to the dispatcher.
type TaskSelectionStage struct{}

func NewTaskSelection() TaskSelectionStage { return TaskSelectionStage{} }

func (TaskSelectionStage) Run(_ context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	updates := command.ResetCounters()
	if len(state.Plans) == 0 {
		updates = append(updates,
			command.SetPlans([]string{}),
			command.SetCurrentTask(domain.NoTasksLeft),
			command.SetTaskStatus(domain.TaskPending),
		)
		return command.Continue(TaskDispatcher, updates...), nil
	}

	updates = append(updates,
		command.SetCurrentTask(state.Plans[0]),
		command.SetPlans(append([]string{}, state.Plans[1:]...)),
		command.SetTaskStatus(domain.TaskInProgress),
	)
	return command.Continue(TaskDispatcher, updates...), nil
}
