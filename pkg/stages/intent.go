package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
)

const (
	RouteActionable = "actionable"
	RouteDirect     = "direct"
)

const intentPrompt = `You are the front desk of an assistant that can act on the user's behalf.
Decide whether the latest user message needs one of the capabilities below (actionable)
or can be answered from the conversation alone (direct).

Capabilities:
%s

For actionable requests, reply with a short first-person acknowledgment of what you are
about to do. For direct requests, reply with the full answer.`

var intentSchema = llm.Schema{
	Name:        "route_intent",
	Description: "Classify the latest user message and reply to it.",
	Properties: map[string]any{
		"route":     llm.Enum("actionable when a capability is needed, direct otherwise", RouteActionable, RouteDirect),
		"message":   llm.String("Short first-person reply to the user"),
		"objective": llm.String("The user's goal restated as one self-contained sentence"),
	},
	Required: []string{"route", "message"},
}

type intentDecision struct {
	Route     string `json:"route"`
	Message   string `json:"message"`
	Objective string `json:"objective"`
}

// IntentRouterStage is the entry stage. It splits utterances into the
// actionable path, which continues to discovery, and direct answers, which
// end the turn.
type IntentRouterStage struct {
	deps Deps
}

func NewIntentRouter(deps Deps) *IntentRouterStage {
	return &IntentRouterStage{deps: deps.withDefaults()}
}

func (s *IntentRouterStage) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	d, usage, err := llm.Decide[intentDecision](ctx, s.deps.Model, llm.DecisionRequest{
		System:   fmt.Sprintf(intentPrompt, routingBlock(s.deps.Registry, registeredAgents(s.deps.Registry))),
		Messages: state.Messages,
		Schema:   intentSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		s.deps.Logger.Warn("intent decision failed, answering directly", "thread_id", state.ThreadID, "err", err)
		return direct(domain.DirectFallbackMessage, usage), nil
	}

	msg := strings.TrimSpace(d.Message)
	if d.Route != RouteActionable {
		if msg == "" {
			msg = domain.DirectFallbackMessage
		}
		return direct(msg, usage), nil
	}

	objective := strings.TrimSpace(d.Objective)
	if objective == "" {
		objective = state.Input
	}
	return command.Continue(CapabilityDiscovery, withUsage([]command.Update{
		command.SetObjective(objective),
		command.AppendMessages(domain.AssistantMessage(IntentRouter, Acknowledge(msg))),
	}, usage)...), nil
}

// Acknowledge forces the actionable marker onto msg.
func Acknowledge(msg string) string {
	msg = strings.TrimSpace(msg)
	if strings.HasPrefix(msg, domain.ActionableMarker) {
		return msg
	}
	if msg == "" {
		return domain.ActionableMarker + " working on your request."
	}
	return domain.ActionableMarker + " " + msg
}

func direct(answer string, usage domain.Usage) command.Command {
	return command.Continue(domain.Terminal, withUsage([]command.Update{
		command.SetAnswer(answer),
		command.AppendMessages(domain.AssistantMessage(IntentRouter, answer)),
	}, usage)...)
}
