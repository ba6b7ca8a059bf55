package domain

// Usage keys recorded by the decision model.
const (
	UsageInputTokens  = "input_tokens"
	UsageOutputTokens = "output_tokens"
	UsageCalls        = "calls"
	UsageCostUSD      = "cost_usd"
)

// Usage is a cumulative cost/token map merged by summation.
type Usage map[string]float64

// Add returns a new map holding u + other. Neither operand is modified.
func (u Usage) Add(other Usage) Usage {
	out := make(Usage, len(u)+len(other))
	for k, v := range u {
		out[k] = v
	}
	for k, v := range other {
		out[k] += v
	}
	return out
}
