package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
)

const finalPrompt = `Write the reply to the user's request: %s

Summarize what was done and the results in one concise message addressed to the user. Mention
anything that could not be done. Do not invent results that are not in the conversation.`

// FinalAnswerStage summarizes the turn into the user-facing answer and ends
// it. It is also the error node, so it never fails: a model failure falls
// back to the latest agent output.
type FinalAnswerStage struct {
	deps Deps
}

func NewFinalAnswer(deps Deps) *FinalAnswerStage {
	return &FinalAnswerStage{deps: deps.withDefaults()}
}

func (s *FinalAnswerStage) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	objective := state.Objective
	if objective == "" {
		objective = state.Input
	}

	var usage domain.Usage
	resp, err := s.deps.Model.Chat(ctx, llm.ChatRequest{
		System:   fmt.Sprintf(finalPrompt, objective),
		Messages: state.Messages,
	})
	answer := ""
	if err == nil {
		answer = strings.TrimSpace(resp.Content)
		usage = resp.Usage
	} else if ctx.Err() != nil {
		return command.Command{}, ctx.Err()
	}
	if answer == "" {
		s.deps.Logger.Warn("final answer failed, using fallback", "thread_id", state.ThreadID, "err", err)
		answer = FallbackAnswer(state)
	}

	return command.Continue(domain.Terminal, withUsage([]command.Update{
		command.SetAnswer(answer),
		command.AppendMessages(domain.AssistantMessage(FinalAnswer, answer)),
	}, usage)...), nil
}

// FallbackAnswer picks the best available answer without a model: the latest
// agent reply, else the latest tool output, else a fixed message.
func FallbackAnswer(state *domain.State) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role == domain.RoleUser {
			break
		}
		if m.Role != domain.RoleAssistant || m.Content == "" || len(m.ToolCalls) > 0 {
			continue
		}
		if m.Name == IntentRouter || m.Name == FinalAnswer {
			continue
		}
		return m.Content
	}
	if out := state.ToolOutput; out != nil && !out.IsError() && out.Output != nil {
		if s, ok := out.Output.(string); ok && s != "" {
			return s
		}
		return encodeOutput(*out)
	}
	return domain.FinalFallbackMessage
}
