package command_test

import (
	"testing"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_MergeRules(t *testing.T) {
	s := domain.NewState("t1", domain.DefaultLimits())
	s.Messages = []domain.Message{domain.UserMessage("hi")}
	s.Plans = []string{"old"}
	s.Usages = domain.Usage{domain.UsageInputTokens: 10}

	next, err := command.Apply(s, []command.Update{
		command.AppendMessages(domain.AssistantMessage("planner", "ok")),
		command.SetPlans([]string{"a", "b"}),
		command.AddUsage(domain.Usage{domain.UsageInputTokens: 5, domain.UsageCalls: 1}),
		command.SetDispatchRetries(2),
		command.SetTaskStatus(domain.TaskInProgress),
		command.SetToolOutput(domain.ToolOutput{Output: "x", Type: domain.OutputTypeText, Show: true}),
	})
	require.NoError(t, err)

	require.Len(t, next.Messages, 2, "transcript is appended")
	assert.Equal(t, "hi", next.Messages[0].Content)
	assert.Equal(t, []string{"a", "b"}, next.Plans, "plans are replaced")
	assert.Equal(t, 15.0, next.Usages[domain.UsageInputTokens], "usage is summed")
	assert.Equal(t, 1.0, next.Usages[domain.UsageCalls])
	assert.Equal(t, 2, next.DispatchRetries)
	assert.Equal(t, domain.TaskInProgress, next.TaskStatus)
	assert.Equal(t, "x", next.ToolOutput.Output)

	// Input untouched.
	assert.Len(t, s.Messages, 1)
	assert.Equal(t, []string{"old"}, s.Plans)
	assert.Equal(t, 10.0, s.Usages[domain.UsageInputTokens])
}

func TestApply_RejectsWrongOp(t *testing.T) {
	s := domain.NewState("t1", domain.Limits{})
	_, err := command.Apply(s, []command.Update{{Field: command.FieldMessages, Op: command.Overwrite, Value: []domain.Message{}}})
	assert.ErrorIs(t, err, command.ErrMergeRule)

	_, err = command.Apply(s, []command.Update{{Field: command.FieldUsages, Op: command.Overwrite, Value: domain.Usage{}}})
	assert.ErrorIs(t, err, command.ErrMergeRule)
}

func TestApply_RejectsWrongType(t *testing.T) {
	s := domain.NewState("t1", domain.Limits{})
	_, err := command.Apply(s, []command.Update{{Field: command.FieldDispatchRetries, Op: command.Overwrite, Value: "2"}})
	assert.ErrorIs(t, err, command.ErrUpdateType)
}

func TestApply_RejectsUnknownField(t *testing.T) {
	s := domain.NewState("t1", domain.Limits{})
	_, err := command.Apply(s, []command.Update{{Field: "node", Op: command.Overwrite, Value: "x"}})
	assert.ErrorIs(t, err, command.ErrUnknownField)
}

func TestApply_ResetCounters(t *testing.T) {
	s := domain.NewState("t1", domain.Limits{})
	s.BackCount, s.DispatchRetries, s.AgentSearchCount, s.AgentRetries = 1, 2, 3, 1

	next, err := command.Apply(s, command.ResetCounters())
	require.NoError(t, err)
	assert.Zero(t, next.BackCount)
	assert.Zero(t, next.DispatchRetries)
	assert.Zero(t, next.AgentSearchCount)
	assert.Zero(t, next.AgentRetries)
}

func TestConstructors_UseFixedRule(t *testing.T) {
	for _, u := range []command.Update{
		command.SetInput("x"),
		command.AppendMessages(),
		command.AddUsage(nil),
		command.SetAgents(nil),
		command.SetReplanCount(1),
	} {
		rule, ok := command.RuleFor(u.Field)
		require.True(t, ok)
		assert.Equal(t, rule, u.Op, u.String())
	}
}

func TestCommand_Suspend(t *testing.T) {
	req := domain.InterruptRequest{Name: "ask", Type: domain.InterruptInputField}
	cmd := command.Suspend(req, []byte(`{"i":1}`))
	assert.True(t, cmd.IsSuspend())
	assert.Equal(t, "ask", cmd.Interrupt.Name)

	assert.False(t, command.Continue(domain.End).IsSuspend())
}
