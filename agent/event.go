package agent

import "github.com/hupe1980/deepmesh/core"

// EventType tags an Event.
type EventType string

const (
	// EventPartial carries a streamed text delta.
	EventPartial EventType = "model_partial"
	// EventModelResponse carries a complete assistant message.
	EventModelResponse EventType = "model_response"
	// EventToolResult carries one tool result message, emitted in call order.
	EventToolResult EventType = "tool_result"
	// EventFinal carries the terminal state.
	EventFinal EventType = "final"
)

// Event reports progress of an invocation.
type Event struct {
	Type      EventType
	Agent     string
	Iteration int
	Message   core.Message
	State     *core.State // EventFinal only
}

// Phase is a control loop state.
type Phase int

const (
	PhaseAwaitingModel Phase = iota
	PhaseModelReturned
	PhaseToolsPending
	PhaseTerminal
)

// String returns the snake_case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingModel:
		return "awaiting_model"
	case PhaseModelReturned:
		return "model_returned"
	case PhaseToolsPending:
		return "tools_pending"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}
