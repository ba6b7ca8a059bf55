package stages

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/conductor/pkg/discovery"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
)

// PipelineConfig describes a complete pipeline.
type PipelineConfig struct {
	Model llm.Model
	// Searcher defaults to a keyword searcher over the registered capabilities.
	Searcher    ports.CapabilitySearcher
	Logger      *slog.Logger
	Hooks       domain.LifecycleHooks
	Limits      domain.Limits
	Agents      []NodeConfig
	Supervisors []SupervisorConfig
}

// Register adds the standard stages, then every supervisor and agent, to
// reg. The intent router is registered first so it is the default entry.
func Register(reg *registry.Registry, cfg PipelineConfig) error {
	if cfg.Model == nil {
		return fmt.Errorf("pipeline: model is required")
	}
	deps := Deps{
		Model:    cfg.Model,
		Registry: reg,
		Logger:   cfg.Logger,
		Hooks:    cfg.Hooks,
		Limits:   cfg.Limits,
	}.withDefaults()

	searcher := cfg.Searcher
	if searcher == nil {
		searcher = discovery.NewKeyword(reg.Agents)
	}

	specs := []registry.NodeSpec{
		{
			Name:               IntentRouter,
			Kind:               registry.KindStarter,
			Handler:            NewIntentRouter(deps),
			RoutingDescription: "classifies the request as actionable or answers it directly",
		},
		{
			Name:               CapabilityDiscovery,
			Kind:               registry.KindPlanner,
			Handler:            NewDiscovery(deps, searcher),
			RoutingDescription: "finds the capabilities able to handle the request",
		},
		{
			Name:               Planner,
			Kind:               registry.KindPlanner,
			Handler:            NewPlanner(deps),
			RoutingDescription: "breaks the request into atomic steps",
		},
		{
			Name:               TaskSelection,
			Kind:               registry.KindPlanner,
			Handler:            NewTaskSelection(),
			RoutingDescription: "takes the next step off the plan",
		},
		NewDispatcher(deps).Spec(),
		NewReplanner(deps).Spec(),
		{
			Name:               FinalAnswer,
			Kind:               registry.KindPlanner,
			Handler:            NewFinalAnswer(deps),
			RoutingDescription: "summarizes the outcome for the user",
		},
	}
	for _, sc := range cfg.Supervisors {
		specs = append(specs, NewSupervisor(sc, deps).Spec())
	}
	for _, nc := range cfg.Agents {
		specs = append(specs, NewExecutor(nc, deps).Spec())
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	for _, sc := range cfg.Supervisors {
		for _, m := range sc.Members {
			if _, ok := reg.Resolve(m); !ok {
				return fmt.Errorf("pipeline: supervisor %s: unknown member %s", sc.Name, m)
			}
		}
	}
	return nil
}
