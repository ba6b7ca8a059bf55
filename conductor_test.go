package conductor_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/conductor"
	"github.com/aretw0/conductor/pkg/adapters/memory"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm/llmtest"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/aretw0/conductor/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type sender struct{}

func (sender) Spec() ports.ToolSpec { return ports.ToolSpec{Name: "send", Description: "sends an email"} }

func (sender) Call(context.Context, map[string]any, domain.Caller) (ports.ToolResult, error) {
	return ports.ToolResult{Output: domain.ToolOutput{Output: "sent", Type: domain.OutputTypeText}}, nil
}

func newEngine(t *testing.T, m *llmtest.Model, opts ...conductor.Option) *conductor.Engine {
	t.Helper()
	set, err := registry.NewToolset(sender{}, tools.AskUser{})
	require.NoError(t, err)
	eng, err := conductor.NewPipeline(stages.PipelineConfig{
		Model:  m,
		Agents: []stages.NodeConfig{{Name: "mail", RoutingDescription: "sends email", Tools: set}},
	}, opts...)
	require.NoError(t, err)
	return eng
}

func TestEngine_DirectAnswer(t *testing.T) {
	m := llmtest.New().Decision("route_intent", map[string]any{"route": "direct", "message": "Hi there."})
	eng := newEngine(t, m)

	res, err := eng.Invoke(ctx, ports.Request{UserID: "u1", Input: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ThreadID, "a thread id is assigned")
	assert.Equal(t, domain.StatusTerminated, res.Status)
	assert.Equal(t, "Hi there.", res.Answer)
	assert.Nil(t, res.Interrupt)

	threads, err := eng.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.ThreadID}, threads)
}

func TestEngine_SuspendAndResume(t *testing.T) {
	m := llmtest.New().
		Decision("route_intent", map[string]any{"route": "actionable", "message": "emailing"}).
		Decision("check_capabilities", map[string]any{"sufficient": true, "selected": []any{"mail"}}).
		Decision("plan_steps", map[string]any{"steps": []any{"email ana"}}).
		Decision("dispatch_task", map[string]any{"destination": "mail"}).
		ToolCalls(domain.ToolCall{ID: "c1", Name: "ask_user", Args: map[string]any{"question": "Address?"}})
	store := memory.NewStore()
	eng := newEngine(t, m, conductor.WithStore(store))

	res, err := eng.Invoke(ctx, ports.Request{ThreadID: "t1", Input: "email ana"})
	require.NoError(t, err)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "ask_user", res.Interrupt.Name)
	assert.Equal(t, domain.StatusSuspended, res.Status)

	_, err = eng.Invoke(ctx, ports.Request{ThreadID: "t1", Input: "something else"})
	assert.ErrorIs(t, err, domain.ErrThreadSuspended)

	_, err = eng.Resume(ctx, ports.ResumeRequest{ThreadID: "t1", Name: "choose", Value: "x"})
	assert.ErrorIs(t, err, domain.ErrInterruptMismatch)

	m.ToolCalls(domain.ToolCall{ID: "c2", Name: "send"}).
		Reply("Sent.").
		Decision("review_task", map[string]any{"decision": "END", "completed": true}).
		Reply("Email sent to Ana.")

	res, err = eng.Resume(ctx, ports.ResumeRequest{ThreadID: "t1", Name: "ask_user", Value: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Email sent to Ana.", res.Answer)

	saved, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTerminated, saved.Status)

	_, err = eng.Resume(ctx, ports.ResumeRequest{ThreadID: "t1", Name: "ask_user", Value: "again"})
	assert.ErrorIs(t, err, domain.ErrNotSuspended)
}

func TestEngine_TranscriptCarriesAcrossTurns(t *testing.T) {
	m := llmtest.New().
		Decision("route_intent", map[string]any{"route": "direct", "message": "One."}).
		Decision("route_intent", map[string]any{"route": "direct", "message": "Two."})
	eng := newEngine(t, m)

	_, err := eng.Invoke(ctx, ports.Request{ThreadID: "t1", Input: "first"})
	require.NoError(t, err)
	_, err = eng.Invoke(ctx, ports.Request{ThreadID: "t1", Input: "second"})
	require.NoError(t, err)

	state, err := eng.Thread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "second", state.Input)
	var users int
	for _, msg := range state.Messages {
		if msg.Role == domain.RoleUser {
			users++
		}
	}
	assert.Equal(t, 2, users)
}

func TestEngine_ConcurrentTurnsOnOneThreadSerialize(t *testing.T) {
	m := llmtest.New()
	for i := 0; i < 5; i++ {
		m.Decision("route_intent", map[string]any{"route": "direct", "message": "ok"})
	}
	eng := newEngine(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Invoke(ctx, ports.Request{ThreadID: "shared", Input: "ping"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := eng.Thread(ctx, "shared")
	require.NoError(t, err)
	var users int
	for _, msg := range state.Messages {
		if msg.Role == domain.RoleUser {
			users++
		}
	}
	assert.Equal(t, 5, users, "no turn overwrote another")
}

func TestEngine_DeleteAndNodes(t *testing.T) {
	m := llmtest.New().Decision("route_intent", map[string]any{"route": "direct", "message": "ok"})
	eng := newEngine(t, m)

	_, err := eng.Invoke(ctx, ports.Request{ThreadID: "t1", Input: "hi"})
	require.NoError(t, err)
	require.NoError(t, eng.Delete(ctx, "t1"))
	_, err = eng.Thread(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)

	nodes := eng.Nodes()
	require.NotEmpty(t, nodes)
	assert.Equal(t, stages.IntentRouter, nodes[0].Name)
	assert.Equal(t, stages.IntentRouter, eng.EntryNode())
	assert.Equal(t, "mail", nodes[len(nodes)-1].Name)
	assert.Equal(t, string(registry.KindAgent), nodes[len(nodes)-1].Kind)
}

func TestNew_Validation(t *testing.T) {
	_, err := conductor.New(registry.New())
	assert.Error(t, err)

	reg := registry.New()
	require.NoError(t, stages.Register(reg, stages.PipelineConfig{Model: llmtest.New()}))
	_, err = conductor.New(reg, conductor.WithEntryNode("nowhere"))
	assert.ErrorIs(t, err, domain.ErrUnknownNode)
}
