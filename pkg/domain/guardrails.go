package domain

// Limits caps every bounded loop in the pipeline.
type Limits struct {
	MaxDispatchRetries int `mapstructure:"max_dispatch_retries" yaml:"max_dispatch_retries" json:"max_dispatch_retries"`
	MaxBack            int `mapstructure:"max_back" yaml:"max_back" json:"max_back"`
	MaxAgentSearch     int `mapstructure:"max_agent_search" yaml:"max_agent_search" json:"max_agent_search"`
	MaxAgentRetries    int `mapstructure:"max_agent_retries" yaml:"max_agent_retries" json:"max_agent_retries"`
	MaxReplans         int `mapstructure:"max_replans" yaml:"max_replans" json:"max_replans"`
	MaxSteps           int `mapstructure:"max_steps" yaml:"max_steps" json:"max_steps"`
	MaxToolCalls       int `mapstructure:"max_tool_calls" yaml:"max_tool_calls" json:"max_tool_calls"`
	MaxPlanSteps       int `mapstructure:"max_plan_steps" yaml:"max_plan_steps" json:"max_plan_steps"`
	TopK               int `mapstructure:"top_k" yaml:"top_k" json:"top_k"`
}

// DefaultLimits returns the stock guardrail caps.
func DefaultLimits() Limits {
	return Limits{
		MaxDispatchRetries: 3,
		MaxBack:            2,
		MaxAgentSearch:     3,
		MaxAgentRetries:    2,
		MaxReplans:         2,
		MaxSteps:           60,
		MaxToolCalls:       8,
		MaxPlanSteps:       8,
		TopK:               5,
	}
}

// WithDefaults fills every non-positive cap from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&l.MaxDispatchRetries, d.MaxDispatchRetries)
	fill(&l.MaxBack, d.MaxBack)
	fill(&l.MaxAgentSearch, d.MaxAgentSearch)
	fill(&l.MaxAgentRetries, d.MaxAgentRetries)
	fill(&l.MaxReplans, d.MaxReplans)
	fill(&l.MaxSteps, d.MaxSteps)
	fill(&l.MaxToolCalls, d.MaxToolCalls)
	fill(&l.MaxPlanSteps, d.MaxPlanSteps)
	fill(&l.TopK, d.TopK)
	return l
}

// Guardrail names reported through LifecycleHooks.OnGuardrail.
const (
	GuardrailDispatch    = "dispatch_retries"
	GuardrailBack        = "back_count"
	GuardrailAgentSearch = "agent_search_count"
	GuardrailAgentRetry  = "agent_retries"
	GuardrailReplan      = "replan_count"
	GuardrailSteps       = "steps"
	GuardrailToolCalls   = "tool_calls"
)
