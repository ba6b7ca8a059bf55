package command

import (
	"errors"
	"fmt"

	"github.com/aretw0/conductor/pkg/domain"
)

// Op is a merge operation.
type Op string

const (
	Overwrite Op = "overwrite"
	Append    Op = "append"
	Sum       Op = "sum"
)

// Field names a stage-writable State field.
type Field string

const (
	FieldInput              Field = "input"
	FieldObjective          Field = "objective"
	FieldMessages           Field = "messages"
	FieldPlans              Field = "plans"
	FieldCurrentTask        Field = "current_task"
	FieldTaskStatus         Field = "task_status"
	FieldBackCount          Field = "back_count"
	FieldMaxBack            Field = "max_back"
	FieldDispatchRetries    Field = "dispatch_retries"
	FieldMaxDispatchRetries Field = "max_dispatch_retries"
	FieldAgentSearchCount   Field = "agent_search_count"
	FieldAgentRetries       Field = "agent_retries"
	FieldReplanCount        Field = "replan_count"
	FieldToolOutput         Field = "tool_output"
	FieldUsages             Field = "usages"
	FieldAgents             Field = "agents"
	FieldAnswer             Field = "answer"
)

// rules is the fixed merge rule of every field.
var rules = map[Field]Op{
	FieldInput:              Overwrite,
	FieldObjective:          Overwrite,
	FieldMessages:           Append,
	FieldPlans:              Overwrite,
	FieldCurrentTask:        Overwrite,
	FieldTaskStatus:         Overwrite,
	FieldBackCount:          Overwrite,
	FieldMaxBack:            Overwrite,
	FieldDispatchRetries:    Overwrite,
	FieldMaxDispatchRetries: Overwrite,
	FieldAgentSearchCount:   Overwrite,
	FieldAgentRetries:       Overwrite,
	FieldReplanCount:        Overwrite,
	FieldToolOutput:         Overwrite,
	FieldUsages:             Sum,
	FieldAgents:             Overwrite,
	FieldAnswer:             Overwrite,
}

// RuleFor returns the merge rule of a field.
func RuleFor(f Field) (Op, bool) {
	op, ok := rules[f]
	return op, ok
}

var (
	ErrUnknownField = errors.New("unknown state field")
	ErrMergeRule    = errors.New("operation does not match field merge rule")
	ErrUpdateType   = errors.New("update value has wrong type")
)

// Update is a single tagged field write.
type Update struct {
	Field Field
	Op    Op
	Value any
}

func (u Update) String() string {
	return fmt.Sprintf("%s(%s)", u.Op, u.Field)
}

func set(f Field, v any) Update { return Update{Field: f, Op: rules[f], Value: v} }

func SetInput(v string) Update { return set(FieldInput, v) }
func SetObjective(v string) Update { return set(FieldObjective, v) }
func SetPlans(v []string) Update { return set(FieldPlans, v) }
func SetCurrentTask(v string) Update { return set(FieldCurrentTask, v) }
func SetTaskStatus(v domain.TaskStatus) Update { return set(FieldTaskStatus, v) }
func SetBackCount(v int) Update { return set(FieldBackCount, v) }
func SetMaxBack(v int) Update { return set(FieldMaxBack, v) }
func SetDispatchRetries(v int) Update { return set(FieldDispatchRetries, v) }
func SetMaxDispatchRetries(v int) Update { return set(FieldMaxDispatchRetries, v) }
func SetAgentSearchCount(v int) Update { return set(FieldAgentSearchCount, v) }
func SetAgentRetries(v int) Update { return set(FieldAgentRetries, v) }
func SetReplanCount(v int) Update { return set(FieldReplanCount, v) }
func SetToolOutput(v domain.ToolOutput) Update { return set(FieldToolOutput, v) }
func SetAgents(v []domain.AgentInfo) Update { return set(FieldAgents, v) }
func SetAnswer(v string) Update { return set(FieldAnswer, v) }

// AppendMessages appends to the transcript.
func AppendMessages(msgs ...domain.Message) Update { return set(FieldMessages, msgs) }

// AddUsage sums u into the cumulative usage map.
func AddUsage(u domain.Usage) Update { return set(FieldUsages, u) }

// ResetCounters zeroes every per-task guardrail counter.
func ResetCounters() []Update {
	return []Update{
		SetBackCount(0),
		SetDispatchRetries(0),
		SetAgentSearchCount(0),
		SetAgentRetries(0),
	}
}
