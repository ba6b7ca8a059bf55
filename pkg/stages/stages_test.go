package stages_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/conductor/internal/runtime"
	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm/llmtest"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newTurn(input string) *domain.State {
	s := domain.NewState("t1", domain.DefaultLimits())
	s.BeginTurn("u1", input, stages.IntentRouter)
	return s
}

func apply(t *testing.T, s *domain.State, cmd command.Command) *domain.State {
	t.Helper()
	next, err := command.Apply(s, cmd.Updates)
	require.NoError(t, err)
	return next
}

func idle() registry.HandlerFunc {
	return func(context.Context, *domain.State, *domain.Resumption) (command.Command, error) {
		return command.Continue(stages.TaskDispatcher), nil
	}
}

// pipeline registers the standard stages plus two bare capabilities.
func pipeline(t *testing.T, m *llmtest.Model) (*registry.Registry, stages.Deps) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, stages.Register(reg, stages.PipelineConfig{Model: m}))
	reg.MustRegister(registry.NodeSpec{Name: "mail", Kind: registry.KindAgent, Handler: idle(), RoutingDescription: "drafts and sends email"})
	reg.MustRegister(registry.NodeSpec{Name: "sheets", Kind: registry.KindAgent, Handler: idle(), RoutingDescription: "edits spreadsheets"})
	return reg, stages.Deps{Model: m, Registry: reg, Limits: domain.DefaultLimits()}
}

func resolve(t *testing.T, reg *registry.Registry, stage, raw string) string {
	t.Helper()
	spec, ok := reg.Resolve(stage)
	require.True(t, ok)
	dest, err := runtime.ValidateDestination(reg, spec, raw)
	require.NoError(t, err)
	return dest
}

func TestIntentRouter(t *testing.T) {
	t.Run("actionable gets the marker", func(t *testing.T) {
		m := llmtest.New().Decision("route_intent", map[string]any{
			"route":     "actionable",
			"message":   "I'll send the report to Ana.",
			"objective": "Send the Q3 report to Ana",
		})
		_, deps := pipeline(t, m)

		cmd, err := stages.NewIntentRouter(deps).Run(ctx, newTurn("send ana the q3 report"), nil)
		require.NoError(t, err)
		assert.Equal(t, stages.CapabilityDiscovery, cmd.Goto)

		s := apply(t, newTurn("send ana the q3 report"), cmd)
		assert.Equal(t, "Send the Q3 report to Ana", s.Objective)
		last, _ := domain.LastOf(s.Messages, domain.RoleAssistant)
		assert.Equal(t, "On it: I'll send the report to Ana.", last.Content)
		assert.Contains(t, m.DecideCalls[0].System, "- mail [agent]: drafts and sends email")
	})

	t.Run("direct ends the turn", func(t *testing.T) {
		m := llmtest.New().Decision("route_intent", map[string]any{"route": "direct", "message": "Paris."})
		_, deps := pipeline(t, m)

		cmd, err := stages.NewIntentRouter(deps).Run(ctx, newTurn("capital of France?"), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.Terminal, cmd.Goto)
		assert.Equal(t, "Paris.", apply(t, newTurn("x"), cmd).Answer)
	})

	t.Run("model failure apologises", func(t *testing.T) {
		m := llmtest.New().DecisionError("route_intent", errors.New("overloaded"))
		_, deps := pipeline(t, m)

		cmd, err := stages.NewIntentRouter(deps).Run(ctx, newTurn("hi"), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.Terminal, cmd.Goto)
		assert.Equal(t, domain.DirectFallbackMessage, apply(t, newTurn("hi"), cmd).Answer)
	})
}

func TestAcknowledge(t *testing.T) {
	assert.Equal(t, "On it: sending", stages.Acknowledge("On it: sending"))
	assert.Equal(t, "On it: sending", stages.Acknowledge("  sending "))
	assert.Contains(t, stages.Acknowledge(""), domain.ActionableMarker)
}

type fixedSearcher struct {
	result []domain.AgentInfo
	err    error
	topKs  []int
}

func (f *fixedSearcher) Search(_ context.Context, _ string, topK int) ([]domain.AgentInfo, error) {
	f.topKs = append(f.topKs, topK)
	return f.result, f.err
}

func TestDiscovery_SelectsFromCandidates(t *testing.T) {
	m := llmtest.New().Decision("check_capabilities", map[string]any{
		"sufficient": true,
		"selected":   []any{"mail", "ghost", "mail"},
	})
	_, deps := pipeline(t, m)
	searcher := &fixedSearcher{result: []domain.AgentInfo{{Name: "mail"}, {Name: "sheets"}, {Name: "unregistered"}}}

	state := newTurn("email ana")
	state.AgentSearchCount = 1
	cmd, err := stages.NewDiscovery(deps, searcher).Run(ctx, state, nil)
	require.NoError(t, err)

	assert.Equal(t, stages.Planner, cmd.Goto)
	s := apply(t, state, cmd)
	assert.Equal(t, []domain.AgentInfo{{Name: "mail", Description: "drafts and sends email"}}, s.Agents)
	assert.Equal(t, []int{10}, searcher.topKs, "topK widens with each round")
	assert.NotContains(t, m.DecideCalls[0].System, "unregistered")
	assert.Equal(t, "email ana", m.DecideCalls[0].Prompt, "the classifier sees the request as a user turn")
}

func TestDiscovery_TerminatesAfterThreeRounds(t *testing.T) {
	m := llmtest.New()
	for i := 0; i < 3; i++ {
		m.Decision("check_capabilities", map[string]any{"sufficient": false, "selected": []any{}})
	}
	_, deps := pipeline(t, m)
	var guardrails []string
	deps.Hooks.OnGuardrail = func(_ context.Context, e *domain.GuardrailEvent) { guardrails = append(guardrails, e.Counter) }
	stage := stages.NewDiscovery(deps, &fixedSearcher{result: []domain.AgentInfo{{Name: "mail"}}})

	state := newTurn("fly me to the moon")
	for round := 1; round <= 2; round++ {
		cmd, err := stage.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.CapabilityDiscovery, cmd.Goto)
		state = apply(t, state, cmd)
		assert.Equal(t, round, state.AgentSearchCount)
	}

	cmd, err := stage.Run(ctx, state, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Terminal, cmd.Goto)
	state = apply(t, state, cmd)
	assert.Equal(t, domain.InsufficientAgentsMessage, state.Answer)
	assert.Equal(t, []string{domain.GuardrailAgentSearch}, guardrails)
	assert.Zero(t, m.Pending())
}

func TestDiscovery_SearchFailureCountsAsRound(t *testing.T) {
	m := llmtest.New()
	_, deps := pipeline(t, m)

	cmd, err := stages.NewDiscovery(deps, &fixedSearcher{err: errors.New("index offline")}).Run(ctx, newTurn("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, stages.CapabilityDiscovery, cmd.Goto)
	assert.Empty(t, m.DecideCalls, "no classifier call without candidates")
}

func TestPlanner(t *testing.T) {
	t.Run("normalizes steps", func(t *testing.T) {
		m := llmtest.New().Decision("plan_steps", map[string]any{
			"steps": []any{" draft email with mail ", "send email with mail", "Draft email with mail", ""},
		})
		_, deps := pipeline(t, m)
		cmd, err := stages.NewPlanner(deps).Run(ctx, newTurn("x"), nil)
		require.NoError(t, err)

		assert.Equal(t, stages.TaskSelection, cmd.Goto)
		assert.Equal(t, []string{"draft email with mail", "send email with mail"}, apply(t, newTurn("x"), cmd).Plans)
	})

	t.Run("failure plans the objective", func(t *testing.T) {
		m := llmtest.New().DecisionError("plan_steps", errors.New("timeout"))
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.Objective = "Send the report"

		cmd, err := stages.NewPlanner(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Send the report"}, apply(t, state, cmd).Plans)
	})
}

func TestNormalizeSteps(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stages.NormalizeSteps([]string{"a", "b", "c"}, 2))
	assert.Empty(t, stages.NormalizeSteps([]string{" ", ""}, 5))
}

func TestTaskSelection_PopsHead(t *testing.T) {
	for _, plans := range [][]string{{"draft email", "send email"}, {"only"}, {"a", "b", "c"}} {
		state := newTurn("x")
		state.Plans = plans
		state.DispatchRetries = 2
		state.AgentRetries = 1

		cmd, err := stages.NewTaskSelection().Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.TaskDispatcher, cmd.Goto)

		next := apply(t, state, cmd)
		assert.Equal(t, plans[0], next.CurrentTask)
		assert.Equal(t, plans[1:], next.Plans)
		assert.Len(t, next.Plans, max(len(plans)-1, 0))
		assert.Zero(t, next.DispatchRetries)
		assert.Zero(t, next.AgentRetries)
		assert.Equal(t, domain.TaskInProgress, next.TaskStatus)
	}
}

func TestTaskSelection_EmptyPlanYieldsSentinel(t *testing.T) {
	cmd, err := stages.NewTaskSelection().Run(ctx, newTurn("x"), nil)
	require.NoError(t, err)
	next := apply(t, newTurn("x"), cmd)
	assert.Equal(t, domain.NoTasksLeft, next.CurrentTask)
	assert.Empty(t, next.Plans)
}

func TestDispatcher_CompletedAdvances(t *testing.T) {
	m := llmtest.New()
	reg, deps := pipeline(t, m)
	state := newTurn("x")
	state.CurrentTask = "draft email"
	state.Plans = []string{"send email"}
	state.TaskStatus = domain.TaskCompleted
	state.DispatchRetries = 2

	cmd, err := stages.NewDispatcher(deps).Run(ctx, state, nil)
	require.NoError(t, err)
	assert.Equal(t, stages.TaskSelection, resolve(t, reg, stages.TaskDispatcher, cmd.Goto))
	assert.Zero(t, apply(t, state, cmd).DispatchRetries)
	assert.Empty(t, m.DecideCalls)
}

func TestDispatcher_RetriesUntilCapThenReplans(t *testing.T) {
	m := llmtest.New()
	reg, deps := pipeline(t, m)
	stage := stages.NewDispatcher(deps)

	state := newTurn("x")
	state.CurrentTask = "send email"
	limit := state.MaxDispatchRetries
	for k := 0; k < limit; k++ {
		m.Decision("dispatch_task", map[string]any{"destination": "mail"})
		state.DispatchRetries = k
		cmd, err := stage.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, "mail", cmd.Goto)
		assert.Equal(t, k+1, apply(t, state, cmd).DispatchRetries)
	}

	state.DispatchRetries = limit
	cmd, err := stage.Run(ctx, state, nil)
	require.NoError(t, err)
	assert.Equal(t, stages.Replanner, resolve(t, reg, stages.TaskDispatcher, cmd.Goto))
	assert.Zero(t, apply(t, state, cmd).DispatchRetries)
	assert.Len(t, m.DecideCalls, limit)
}

func TestDispatcher_SafeDefaults(t *testing.T) {
	t.Run("model failure ends the task", func(t *testing.T) {
		m := llmtest.New().DecisionError("dispatch_task", errors.New("rate limited"))
		reg, deps := pipeline(t, m)
		state := newTurn("x")
		state.CurrentTask = "send email"

		cmd, err := stages.NewDispatcher(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.End, cmd.Goto)
		assert.Equal(t, stages.Replanner, resolve(t, reg, stages.TaskDispatcher, cmd.Goto))
	})

	t.Run("sentinel goes to the replanner", func(t *testing.T) {
		_, deps := pipeline(t, llmtest.New())
		state := newTurn("x")
		state.CurrentTask = domain.NoTasksLeft

		cmd, err := stages.NewDispatcher(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.Replanner, cmd.Goto)
	})

	t.Run("pipeline stage is not a choice", func(t *testing.T) {
		m := llmtest.New().Decision("dispatch_task", map[string]any{"destination": stages.Planner})
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.CurrentTask = "send email"

		cmd, err := stages.NewDispatcher(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.End, cmd.Goto)
	})

	t.Run("choices follow the selected agents", func(t *testing.T) {
		m := llmtest.New().Decision("dispatch_task", map[string]any{"destination": "sheets"})
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.CurrentTask = "add a row"
		state.Agents = []domain.AgentInfo{{Name: "sheets"}}

		_, err := stages.NewDispatcher(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		enum := m.DecideCalls[0].Schema.Properties["destination"].(map[string]any)["enum"]
		assert.Equal(t, []string{"sheets", domain.End, domain.NextTask}, enum)
	})
}

func TestSupervisor(t *testing.T) {
	newSupervised := func(t *testing.T, m *llmtest.Model) (*registry.Registry, *stages.Supervisor) {
		reg, deps := pipeline(t, m)
		sup := stages.NewSupervisor(stages.SupervisorConfig{
			Name:    "office",
			Members: []string{"mail", "sheets"},
		}, deps)
		reg.MustRegister(sup.Spec())
		return reg, sup
	}

	t.Run("back escalates to the parent", func(t *testing.T) {
		m := llmtest.New().Decision("supervise_task", map[string]any{"destination": domain.Back})
		reg, sup := newSupervised(t, m)
		state := newTurn("x")

		cmd, err := sup.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.TaskDispatcher, resolve(t, reg, "office", cmd.Goto))
		assert.Equal(t, 1, apply(t, state, cmd).BackCount)
	})

	t.Run("back past max_back ends the turn", func(t *testing.T) {
		m := llmtest.New().Decision("supervise_task", map[string]any{"destination": domain.Back})
		reg, sup := newSupervised(t, m)
		state := newTurn("x")
		state.BackCount = state.MaxBack

		cmd, err := sup.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.FinalAnswer, resolve(t, reg, "office", cmd.Goto))
	})

	t.Run("member pass counts as a dispatch retry", func(t *testing.T) {
		m := llmtest.New().Decision("supervise_task", map[string]any{"destination": "sheets"})
		_, sup := newSupervised(t, m)
		state := newTurn("x")

		cmd, err := sup.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, "sheets", cmd.Goto)
		assert.Equal(t, 1, apply(t, state, cmd).DispatchRetries)
	})

	t.Run("invalid choice falls back to BACK", func(t *testing.T) {
		m := llmtest.New().Decision("supervise_task", map[string]any{"destination": stages.Planner})
		reg, sup := newSupervised(t, m)
		spec, _ := reg.Resolve("office")
		state := newTurn("x")

		cmd, err := sup.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, runtime.FallbackFor(spec), cmd.Goto)
		assert.Equal(t, stages.TaskDispatcher, resolve(t, reg, "office", cmd.Goto))
		assert.Equal(t, 1, apply(t, state, cmd).BackCount)
	})

	t.Run("invalid choice past max_back ends the turn", func(t *testing.T) {
		m := llmtest.New().Decision("supervise_task", map[string]any{"destination": "no_such_member"})
		reg, sup := newSupervised(t, m)
		state := newTurn("x")
		state.BackCount = state.MaxBack

		cmd, err := sup.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.FinalAnswer, resolve(t, reg, "office", cmd.Goto))
		assert.Equal(t, state.MaxBack, apply(t, state, cmd).BackCount)
	})

	t.Run("completed task moves on", func(t *testing.T) {
		reg, sup := newSupervised(t, llmtest.New())
		state := newTurn("x")
		state.TaskStatus = domain.TaskCompleted

		cmd, err := sup.Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.TaskSelection, resolve(t, reg, "office", cmd.Goto))
	})
}

func TestReplanner(t *testing.T) {
	t.Run("empty plan always ends", func(t *testing.T) {
		m := llmtest.New().Decision("revise_plan", map[string]any{"action": "REPLAN", "steps": []any{"invent work"}})
		reg, deps := pipeline(t, m)

		cmd, err := stages.NewReplanner(deps).Run(ctx, newTurn("x"), nil)
		require.NoError(t, err)
		assert.Equal(t, stages.FinalAnswer, resolve(t, reg, stages.Replanner, cmd.Goto))
		assert.Empty(t, m.DecideCalls)
	})

	t.Run("replan replaces the remaining steps", func(t *testing.T) {
		m := llmtest.New().Decision("revise_plan", map[string]any{"action": "REPLAN", "steps": []any{"send email", " send email "}})
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.Plans = []string{"attach report", "send email"}

		cmd, err := stages.NewReplanner(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, stages.TaskSelection, cmd.Goto)
		next := apply(t, state, cmd)
		assert.Equal(t, []string{"send email"}, next.Plans)
		assert.Equal(t, 1, next.ReplanCount)
	})

	t.Run("bounded by max_replans", func(t *testing.T) {
		m := llmtest.New()
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.Plans = []string{"send email"}
		state.ReplanCount = domain.DefaultLimits().MaxReplans

		cmd, err := stages.NewReplanner(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.End, cmd.Goto)
		assert.Empty(t, m.DecideCalls)
	})

	t.Run("model failure ends", func(t *testing.T) {
		m := llmtest.New().DecisionError("revise_plan", errors.New("boom"))
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.Plans = []string{"send email"}

		cmd, err := stages.NewReplanner(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.End, cmd.Goto)
	})
}

func TestFinalAnswer(t *testing.T) {
	t.Run("summarizes", func(t *testing.T) {
		m := llmtest.New().Reply("Your email was sent.")
		_, deps := pipeline(t, m)

		cmd, err := stages.NewFinalAnswer(deps).Run(ctx, newTurn("x"), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.Terminal, cmd.Goto)
		s := apply(t, newTurn("x"), cmd)
		assert.Equal(t, "Your email was sent.", s.Answer)
		last, _ := domain.LastOf(s.Messages, domain.RoleAssistant)
		assert.Equal(t, stages.FinalAnswer, last.Name)
	})

	t.Run("model failure falls back to the last agent reply", func(t *testing.T) {
		m := llmtest.New().ChatError(errors.New("overloaded"))
		_, deps := pipeline(t, m)
		state := newTurn("x")
		state.Messages = append(state.Messages,
			domain.AssistantMessage(stages.IntentRouter, "On it: sending"),
			domain.AssistantMessage("mail", "Sent the report to Ana."),
		)

		cmd, err := stages.NewFinalAnswer(deps).Run(ctx, state, nil)
		require.NoError(t, err)
		assert.Equal(t, "Sent the report to Ana.", apply(t, state, cmd).Answer)
	})
}

func TestFallbackAnswer(t *testing.T) {
	state := newTurn("x")
	assert.Equal(t, domain.FinalFallbackMessage, stages.FallbackAnswer(state))

	state.ToolOutput = &domain.ToolOutput{Output: "row 7 updated", Type: domain.OutputTypeText}
	assert.Equal(t, "row 7 updated", stages.FallbackAnswer(state))

	state.ToolOutput = &domain.ToolOutput{Output: "error: boom", Type: domain.OutputTypeError}
	assert.Equal(t, domain.FinalFallbackMessage, stages.FallbackAnswer(state))
}

func TestRegister_RejectsUnknownSupervisorMember(t *testing.T) {
	err := stages.Register(registry.New(), stages.PipelineConfig{
		Model:       llmtest.New(),
		Supervisors: []stages.SupervisorConfig{{Name: "office", Members: []string{"ghost"}}},
	})
	assert.ErrorContains(t, err, "unknown member ghost")
}
