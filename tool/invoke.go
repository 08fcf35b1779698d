package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/logging"
)

var errUnknownTool = errors.New("unknown tool")

// ErrorPrefix leads the result text of a recovered tool failure.
const ErrorPrefix = "Error: "

// Invoke runs t outside a control loop against st, for hosts that want to
// call a tool directly. It returns the raw result and the state update the
// call recorded. On failure the update is empty.
func Invoke(ctx context.Context, t Tool, st core.State, args map[string]any, logger logging.Logger) (any, core.Update, error) {
	tc := core.NewToolContext(ctx, core.NewID(), t.Name(), st, logger)
	if args == nil {
		args = map[string]any{}
	}
	res, err := t.Call(tc, args)
	if err != nil {
		return nil, core.Update{}, err
	}
	return res, tc.Delta(), nil
}

// ParseArguments decodes the JSON argument payload of a tool call. An empty
// payload yields an empty map.
func ParseArguments(toolName, raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ToolError{
			Tool:    toolName,
			Message: fmt.Sprintf("invalid JSON arguments: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}
	return args, nil
}

// FormatResult renders a tool result as message text: strings verbatim,
// nil as "", anything else as JSON.
func FormatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	case []byte:
		return string(r)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// FormatError renders a recovered tool failure as result text.
func FormatError(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return ErrorPrefix + te.Message
	}
	return ErrorPrefix + err.Error()
}

// NotFound builds the error reported when the model names an unknown tool.
func NotFound(name string, available []string) *ToolError {
	msg := fmt.Sprintf("tool %q not found", name)
	if len(available) > 0 {
		msg += fmt.Sprintf("; available tools: %s", strings.Join(available, ", "))
	}
	return &ToolError{Tool: name, Message: msg, Code: CodeNotFound}
}
