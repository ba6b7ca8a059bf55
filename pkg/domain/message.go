package domain

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the decision model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one transcript entry.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant entry attributed to the named stage.
func AssistantMessage(name, content string) Message {
	return Message{Role: RoleAssistant, Name: name, Content: content}
}

// ToolMessage creates the result entry answering a tool call.
func ToolMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Name: toolName, Content: content, ToolCallID: callID}
}

func (m Message) clone() Message {
	if m.ToolCalls == nil {
		return m
	}
	calls := make([]ToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		calls[i] = tc
		if tc.Args != nil {
			args := make(map[string]any, len(tc.Args))
			for k, v := range tc.Args {
				args[k] = v
			}
			calls[i].Args = args
		}
	}
	m.ToolCalls = calls
	return m
}

// PairTranscript drops tool results whose originating call does not appear
// in an earlier assistant message. Model providers reject orphaned results.
func PairTranscript(msgs []Message) []Message {
	seen := make(map[string]bool)
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				seen[tc.ID] = true
			}
		case RoleTool:
			if !seen[m.ToolCallID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// LastOf returns the most recent message with the given role.
func LastOf(msgs []Message, role Role) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], true
		}
	}
	return Message{}, false
}
