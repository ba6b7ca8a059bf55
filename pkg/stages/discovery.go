package stages

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/ports"
)

const discoveryPrompt = `You select which capabilities are needed to fulfil a request.

Request: %s

Candidate capabilities:
%s

Answer sufficient=true only if the selected capabilities together can complete the whole
request. Select only from the candidates.`

var discoverySchema = llm.Schema{
	Name:        "check_capabilities",
	Description: "Decide whether the candidate capabilities can handle the request.",
	Properties: map[string]any{
		"sufficient": llm.Bool("Whether the selected capabilities cover the request"),
		"selected":   llm.StringList("Names of the candidates needed, in the order they will be used"),
		"reason":     llm.String("One sentence explaining the decision"),
	},
	Required: []string{"sufficient", "selected"},
}

type discoveryDecision struct {
	Sufficient bool     `json:"sufficient"`
	Selected   []string `json:"selected"`
	Reason     string   `json:"reason"`
}

// DiscoveryStage runs one round of the bounded capability search. A failed
// round loops back to itself until Limits.MaxAgentSearch rounds have failed,
// then the turn ends with a fixed message.
type DiscoveryStage struct {
	deps     Deps
	searcher ports.CapabilitySearcher
}

func NewDiscovery(deps Deps, searcher ports.CapabilitySearcher) *DiscoveryStage {
	return &DiscoveryStage{deps: deps.withDefaults(), searcher: searcher}
}

func (s *DiscoveryStage) Run(ctx context.Context, state *domain.State, _ *domain.Resumption) (command.Command, error) {
	round := state.AgentSearchCount
	query := state.Objective
	if query == "" {
		query = state.Input
	}
	topK := s.deps.Limits.TopK * (round + 1)

	found, err := s.searcher.Search(ctx, query, topK)
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		s.deps.Logger.Warn("capability search failed", "thread_id", state.ThreadID, "round", round, "err", err)
		return s.miss(ctx, state, nil), nil
	}
	candidates := s.registered(found)
	if len(candidates) == 0 {
		s.deps.Logger.Info("no capability candidates", "thread_id", state.ThreadID, "round", round, "top_k", topK)
		return s.miss(ctx, state, nil), nil
	}

	d, usage, err := llm.Decide[discoveryDecision](ctx, s.deps.Model, llm.DecisionRequest{
		System: fmt.Sprintf(discoveryPrompt, query, capabilityBlock(candidates)),
		Prompt: query,
		Schema: discoverySchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		s.deps.Logger.Warn("capability check failed", "thread_id", state.ThreadID, "round", round, "err", err)
		return s.miss(ctx, state, usage), nil
	}

	selected := pick(candidates, d.Selected)
	if !d.Sufficient || len(selected) == 0 {
		s.deps.Logger.Info("capabilities insufficient", "thread_id", state.ThreadID, "round", round, "reason", d.Reason)
		return s.miss(ctx, state, usage), nil
	}

	return command.Continue(Planner, withUsage([]command.Update{
		command.SetAgents(selected),
	}, usage)...), nil
}

func (s *DiscoveryStage) miss(ctx context.Context, state *domain.State, usage domain.Usage) command.Command {
	failed := state.AgentSearchCount + 1
	if failed >= s.deps.Limits.MaxAgentSearch {
		s.deps.guardrail(ctx, state, CapabilityDiscovery, domain.GuardrailAgentSearch, failed, s.deps.Limits.MaxAgentSearch)
		return command.Continue(domain.Terminal, withUsage([]command.Update{
			command.SetAgentSearchCount(failed),
			command.SetAnswer(domain.InsufficientAgentsMessage),
			command.AppendMessages(domain.AssistantMessage(CapabilityDiscovery, domain.InsufficientAgentsMessage)),
		}, usage)...)
	}
	return command.Continue(CapabilityDiscovery, withUsage([]command.Update{
		command.SetAgentSearchCount(failed),
	}, usage)...)
}

// registered keeps search hits that name a registered capability.
func (s *DiscoveryStage) registered(found []domain.AgentInfo) []domain.AgentInfo {
	var out []domain.AgentInfo
	seen := make(map[string]bool)
	for _, a := range found {
		if seen[a.Name] {
			continue
		}
		spec, ok := s.deps.Registry.Resolve(a.Name)
		if !ok || !isCapability(spec.Kind) {
			continue
		}
		seen[a.Name] = true
		if a.Description == "" {
			a.Description = spec.RoutingDescription
		}
		out = append(out, a)
	}
	return out
}

// pick returns the candidates named in selected, in selection order.
func pick(candidates []domain.AgentInfo, selected []string) []domain.AgentInfo {
	var out []domain.AgentInfo
	for _, name := range selected {
		i := slices.IndexFunc(candidates, func(a domain.AgentInfo) bool { return a.Name == name })
		if i < 0 || slices.ContainsFunc(out, func(a domain.AgentInfo) bool { return a.Name == name }) {
			continue
		}
		out = append(out, candidates[i])
	}
	return out
}
