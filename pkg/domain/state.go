package domain

// Status defines the current mode of a thread's execution.
type Status string

const (
	StatusActive     Status = "active"     // Stages are being dispatched
	StatusSuspended  Status = "suspended"  // Waiting for a Resume value
	StatusTerminated Status = "terminated" // Turn finished, thread idle
)

// TaskStatus tracks the progress of the current plan step.
type TaskStatus string

const (
	TaskPending    TaskStatus = ""
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// ToolOutput is the uniform envelope every tool returns.
type ToolOutput struct {
	Output any    `json:"output"`
	Type   string `json:"type"`
	Show   bool   `json:"show"`
}

// IsError reports whether the envelope carries a captured failure.
func (o ToolOutput) IsError() bool {
	return o.Type == OutputTypeError
}

// Output types used by built-in tools and the error-capturing wrapper.
const (
	OutputTypeText   = "text"
	OutputTypeJSON   = "json"
	OutputTypeError  = "error"
	OutputTypeResume = "resume"
)

// AgentInfo describes a capability selected by discovery.
type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// State is the per-thread record threaded through every stage.
//
// Fields in the first block are managed by the engine and cannot be written
// by a Command. The rest are written exclusively through command updates.
type State struct {
	ThreadID string            `json:"thread_id"`
	UserID   string            `json:"user_id,omitempty"`
	Node     string            `json:"node"`
	Status   Status            `json:"status"`
	Pending  *PendingInterrupt `json:"pending,omitempty"`
	History  []string          `json:"history,omitempty"`
	Steps    int               `json:"steps"`
	// Sealed carries the encrypted body of a checkpoint written through an
	// encrypting store; the remaining fields are then left empty.
	Sealed string `json:"sealed,omitempty"`

	Input              string      `json:"input"`
	Objective          string      `json:"objective,omitempty"`
	Messages           []Message   `json:"messages"`
	Plans              []string    `json:"plans"`
	CurrentTask        string      `json:"current_task"`
	TaskStatus         TaskStatus  `json:"task_status"`
	BackCount          int         `json:"back_count"`
	MaxBack            int         `json:"max_back"`
	DispatchRetries    int         `json:"dispatch_retries"`
	MaxDispatchRetries int         `json:"max_dispatch_retries"`
	AgentSearchCount   int         `json:"agent_search_count"`
	AgentRetries       int         `json:"agent_retries"`
	ReplanCount        int         `json:"replan_count"`
	ToolOutput         *ToolOutput `json:"tool_output,omitempty"`
	Usages             Usage       `json:"usages,omitempty"`
	Agents             []AgentInfo `json:"agents,omitempty"`
	Answer             string      `json:"answer,omitempty"`
}

// NewState creates an idle thread record carrying the configured caps.
func NewState(threadID string, limits Limits) *State {
	limits = limits.WithDefaults()
	return &State{
		ThreadID:           threadID,
		Status:             StatusTerminated,
		Messages:           []Message{},
		Plans:              []string{},
		MaxBack:            limits.MaxBack,
		MaxDispatchRetries: limits.MaxDispatchRetries,
		Usages:             Usage{},
	}
}

// BeginTurn prepares an idle thread for a new user utterance starting at entry.
// The transcript and usage totals carry over; everything scoped to a single
// request is cleared.
func (s *State) BeginTurn(userID, input, entry string) {
	if userID != "" {
		s.UserID = userID
	}
	s.Node = entry
	s.Status = StatusActive
	s.Pending = nil
	s.History = nil
	s.Steps = 0

	s.Input = input
	s.Objective = ""
	s.Plans = []string{}
	s.CurrentTask = ""
	s.TaskStatus = TaskPending
	s.BackCount = 0
	s.DispatchRetries = 0
	s.AgentSearchCount = 0
	s.AgentRetries = 0
	s.ReplanCount = 0
	s.ToolOutput = nil
	s.Agents = nil
	s.Answer = ""
	s.Messages = append(s.Messages, UserMessage(input))
}

// Clone returns a deep copy so stages and stores never share backing arrays.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.Pending != nil {
		p := *s.Pending
		p.Checkpoint = append([]byte(nil), s.Pending.Checkpoint...)
		c.Pending = &p
	}
	c.History = append([]string(nil), s.History...)
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.clone()
	}
	c.Plans = append([]string{}, s.Plans...)
	if s.ToolOutput != nil {
		o := *s.ToolOutput
		c.ToolOutput = &o
	}
	c.Usages = s.Usages.Add(nil)
	c.Agents = append([]AgentInfo(nil), s.Agents...)
	return &c
}

// Done reports whether the thread has nothing left to dispatch.
func (s *State) Done() bool {
	return s.Status == StatusTerminated
}

// Caller identifies who a tool is acting for.
type Caller struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
}

// Caller returns the tool caller context of the thread.
func (s *State) Caller() Caller {
	return Caller{ThreadID: s.ThreadID, UserID: s.UserID}
}
