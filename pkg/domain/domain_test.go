package domain_test

import (
	"context"
	"testing"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairTranscript_DropsOrphans(t *testing.T) {
	msgs := []domain.Message{
		domain.UserMessage("hi"),
		domain.ToolMessage("orphan", "search", "x"),
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "search"}}},
		domain.ToolMessage("c1", "search", "ok"),
	}

	paired := domain.PairTranscript(msgs)

	require.Len(t, paired, 3)
	assert.Equal(t, domain.RoleUser, paired[0].Role)
	assert.Equal(t, "c1", paired[2].ToolCallID)
}

func TestPairTranscript_ResultBeforeCallIsOrphan(t *testing.T) {
	msgs := []domain.Message{
		domain.ToolMessage("c1", "search", "early"),
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "search"}}},
	}
	assert.Len(t, domain.PairTranscript(msgs), 1)
}

func TestState_CloneIsolation(t *testing.T) {
	s := domain.NewState("t1", domain.Limits{})
	s.Messages = append(s.Messages, domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{ID: "c1", Args: map[string]any{"q": "a"}}},
	})
	s.Plans = []string{"one", "two"}
	s.Usages = domain.Usage{domain.UsageCalls: 1}

	c := s.Clone()
	c.Plans[0] = "changed"
	c.Messages[0].ToolCalls[0].Args["q"] = "b"
	c.Usages[domain.UsageCalls] = 5

	assert.Equal(t, "one", s.Plans[0])
	assert.Equal(t, "a", s.Messages[0].ToolCalls[0].Args["q"])
	assert.Equal(t, 1.0, s.Usages[domain.UsageCalls])
}

func TestState_BeginTurnResetsTurnFields(t *testing.T) {
	s := domain.NewState("t1", domain.DefaultLimits())
	s.Messages = []domain.Message{domain.UserMessage("old")}
	s.DispatchRetries = 2
	s.Plans = []string{"left"}
	s.Answer = "previous"
	s.Usages = domain.Usage{domain.UsageCalls: 3}

	s.BeginTurn("u1", "new request", "intent_router")

	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, "intent_router", s.Node)
	assert.Equal(t, "u1", s.UserID)
	assert.Zero(t, s.DispatchRetries)
	assert.Empty(t, s.Plans)
	assert.Empty(t, s.Answer)
	assert.Equal(t, 3.0, s.Usages[domain.UsageCalls], "usage totals carry over")
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "new request", s.Messages[1].Content)
}

func TestLimits_WithDefaults(t *testing.T) {
	l := domain.Limits{MaxDispatchRetries: 5}.WithDefaults()
	assert.Equal(t, 5, l.MaxDispatchRetries)
	assert.Equal(t, domain.DefaultLimits().MaxBack, l.MaxBack)
	assert.Equal(t, 3, l.MaxAgentSearch)
}

func TestUsage_AddDoesNotMutate(t *testing.T) {
	a := domain.Usage{domain.UsageInputTokens: 10}
	b := domain.Usage{domain.UsageInputTokens: 5, domain.UsageOutputTokens: 2}

	sum := a.Add(b)

	assert.Equal(t, 15.0, sum[domain.UsageInputTokens])
	assert.Equal(t, 2.0, sum[domain.UsageOutputTokens])
	assert.Equal(t, 10.0, a[domain.UsageInputTokens])
}

func TestInterruptRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.InterruptRequest
		wantErr bool
	}{
		{"field", domain.InterruptRequest{Name: "ask", Type: domain.InterruptInputField}, false},
		{"option without options", domain.InterruptRequest{Name: "pick", Type: domain.InterruptInputOption}, true},
		{"option", domain.InterruptRequest{Name: "pick", Type: domain.InterruptInputOption, Data: domain.InterruptData{Options: []string{"a"}}}, false},
		{"connect without platform", domain.InterruptRequest{Name: "auth", Type: domain.InterruptConnect}, true},
		{"no name", domain.InterruptRequest{Type: domain.InterruptInputField}, true},
		{"unknown type", domain.InterruptRequest{Name: "x", Type: "other"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInterrupt)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsReserved(t *testing.T) {
	for _, s := range []string{domain.End, domain.NextTask, domain.Back, domain.Terminal} {
		assert.True(t, domain.IsReserved(s), s)
	}
	assert.False(t, domain.IsReserved("mail"))
}

func TestMergeHooks(t *testing.T) {
	var calls []string
	h1 := domain.LifecycleHooks{OnStageEnter: func(context.Context, *domain.StageEvent) { calls = append(calls, "a") }}
	h2 := domain.LifecycleHooks{OnStageEnter: func(context.Context, *domain.StageEvent) { calls = append(calls, "b") }}

	merged := domain.MergeHooks(h1, domain.LifecycleHooks{}, h2)
	domain.Emit(context.Background(), merged.OnStageEnter, &domain.StageEvent{})

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Nil(t, merged.OnFinal)
}

func TestDiff(t *testing.T) {
	old := domain.NewState("t1", domain.Limits{})
	old.Node = "planner"
	old.Messages = []domain.Message{domain.UserMessage("hi")}

	next := old.Clone()
	next.Node = "task_selection"
	next.Plans = []string{"draft email"}
	next.Messages = append(next.Messages, domain.AssistantMessage("planner", "plan ready"))

	diff := domain.Diff(old, next)
	require.NotNil(t, diff)
	assert.Equal(t, "task_selection", *diff.Node)
	assert.Nil(t, diff.Status)
	assert.Equal(t, []string{"draft email"}, diff.Plans)
	require.Len(t, diff.Messages, 1)
	assert.Equal(t, "plan ready", diff.Messages[0].Content)

	assert.Nil(t, domain.Diff(next, next.Clone()))
}

func TestDiff_Initial(t *testing.T) {
	s := domain.NewState("t1", domain.Limits{})
	s.Answer = "done"
	diff := domain.Diff(nil, s)
	require.NotNil(t, diff)
	assert.Equal(t, "done", *diff.Answer)
	assert.Equal(t, domain.StatusTerminated, *diff.Status)
}
