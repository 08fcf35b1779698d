package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSubagentNotFound is returned when a task names an unknown subagent.
	ErrSubagentNotFound = errors.New("subagent not found")
	// ErrToolValidation marks malformed tool arguments.
	ErrToolValidation = errors.New("tool validation failed")
	// ErrToolExecution marks a tool that failed while running.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrToolNotFound is returned when the model calls an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDispatchTimeout is returned when a subagent dispatch exceeds its deadline.
	ErrDispatchTimeout = errors.New("dispatch timeout")
	// ErrIterationLimitExceeded aborts an invocation that keeps requesting tools.
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")
	// ErrModelUnavailable wraps backend failures surfaced to the caller of Invoke.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrRecursiveDelegation is returned when a subagent would be able to dispatch tasks itself.
	ErrRecursiveDelegation = errors.New("subagent may not delegate tasks")
)

// IterationLimitError reports the configured cap that was exceeded.
type IterationLimitError struct {
	Limit int
}

// Error implements error.
func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("%s: exceeded max model calls: %d", ErrIterationLimitExceeded, e.Limit)
}

// Unwrap makes errors.Is(err, ErrIterationLimitExceeded) hold.
func (e *IterationLimitError) Unwrap() error { return ErrIterationLimitExceeded }
