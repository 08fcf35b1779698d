// Package tool implements the tool calling subsystem that lets agents invoke
// structured capabilities with schema validated arguments, consistent error
// handling and metadata for LLM guidance.
package tool

import (
	"fmt"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools read loop state through the ToolContext snapshot and record writes
// (artifacts, todos, extension fields) on the ToolContext. They never mutate
// shared state directly, so sibling calls of one model turn can run
// concurrently and still merge deterministically.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Be safe for concurrent use (one ToolContext per call)
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description shown to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with structured arguments. The returned value is
	// rendered as the tool result text (strings verbatim, anything else as JSON).
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeSubagentNotFound = "SUBAGENT_NOT_FOUND"
	CodeDispatchTimeout  = "DISPATCH_TIMEOUT"
)

// ToolError represents errors that occur during tool execution. All ToolErrors
// are recoverable: the control loop turns them into tool result text.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message shown to the model
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

// Error implements error; the code is included when set.
func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the taxonomy sentinel for Code and, when Details is an
// error, the underlying cause.
func (e *ToolError) Unwrap() []error {
	var errs []error
	switch e.Code {
	case CodeValidation:
		errs = append(errs, core.ErrToolValidation)
	case CodeExecution:
		errs = append(errs, core.ErrToolExecution)
	case CodeNotFound:
		errs = append(errs, core.ErrToolNotFound)
	case CodeSubagentNotFound:
		errs = append(errs, core.ErrSubagentNotFound)
	case CodeDispatchTimeout:
		errs = append(errs, core.ErrDispatchTimeout)
	}
	if cause, ok := e.Details.(error); ok {
		errs = append(errs, cause)
	}
	return errs
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// WrapError converts err into a *ToolError with the given code, keeping err as
// the cause. An existing *ToolError is returned unchanged.
func WrapError(tool, code string, err error) *ToolError {
	if te, ok := err.(*ToolError); ok {
		return te
	}
	return &ToolError{Tool: tool, Message: err.Error(), Code: code, Details: err}
}
