package core

// Role tags the author of a conversation message.
type Role string

const (
	// RoleSystem marks system prompt content.
	RoleSystem Role = "system"
	// RoleUser marks user (or dispatching parent) input.
	RoleUser Role = "user"
	// RoleAssistant marks model output.
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool result answering a ToolCall.
	RoleTool Role = "tool"
)

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`                  // Correlates the call with its tool result
	Name      string `json:"name"`                // Tool name
	Arguments string `json:"arguments,omitempty"` // JSON object payload
}

// Message is one role-tagged entry of the conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // Tool messages only
	Name       string     `json:"name,omitempty"`         // Tool name on tool messages
	IsError    bool       `json:"is_error,omitempty"`     // Tool result carries a recovered error
}

// NewUserMessage creates a user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewAssistantMessage creates an assistant message optionally requesting tool calls.
func NewAssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// NewToolMessage creates the tool result message for a call.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// NewToolErrorMessage creates a tool result carrying a recovered error.
func NewToolErrorMessage(callID, name, content string) Message {
	m := NewToolMessage(callID, name, content)
	m.IsError = true
	return m
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}
