package core

import (
	"context"

	"github.com/hupe1980/deepmesh/logging"
)

// ToolContext is the constrained surface a tool sees while it runs. It
// exposes a read-only snapshot of the loop state and accumulates the tool's
// writes into an Update without touching the snapshot. The control loop
// merges the Update after all sibling calls of the step have finished.
//
// A ToolContext belongs to a single tool call and is not safe for concurrent use.
type ToolContext struct {
	ctx      context.Context
	callID   string
	toolName string
	state    State
	delta    Update

	*loggerAdapter
}

// NewToolContext constructs a tool context for one call. st is treated as
// read-only and may be shared between sibling calls.
func NewToolContext(ctx context.Context, callID, toolName string, st State, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:           ctx,
		callID:        callID,
		toolName:      toolName,
		state:         st,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// FunctionCallID returns the id of the tool call being served.
func (tc *ToolContext) FunctionCallID() string { return tc.callID }

// ToolName returns the name of the tool being served.
func (tc *ToolContext) ToolName() string { return tc.toolName }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// State returns the loop state as it was when the step started. Callers must
// not mutate it; use Snapshot for a private copy that includes pending writes.
func (tc *ToolContext) State() State { return tc.state }

// Snapshot returns a private copy of the state with this call's pending
// writes applied.
func (tc *ToolContext) Snapshot() State { return Apply(tc.state, tc.delta) }

// Artifact returns an artifact, observing writes made earlier in this call.
func (tc *ToolContext) Artifact(name string) (string, bool) {
	if v, ok := tc.delta.Artifacts[name]; ok {
		return v, true
	}
	v, ok := tc.state.Artifacts[name]
	return v, ok
}

// ArtifactNames returns every artifact name visible to this call, sorted.
func (tc *ToolContext) ArtifactNames() []string {
	merged := tc.state.Artifacts.Clone()
	for k, v := range tc.delta.Artifacts {
		merged[k] = v
	}
	return merged.Names()
}

// Todos returns the current todo list, observing a pending replacement.
func (tc *ToolContext) Todos() []Todo {
	if tc.delta.Todos != nil {
		return cloneTodos(tc.delta.Todos)
	}
	return cloneTodos(tc.state.Todos)
}

// WriteArtifact records a create-or-overwrite of an artifact.
func (tc *ToolContext) WriteArtifact(name, content string) {
	if tc.delta.Artifacts == nil {
		tc.delta.Artifacts = Artifacts{}
	}
	tc.delta.Artifacts[name] = content
}

// SetTodos records a wholesale replacement of the todo list.
func (tc *ToolContext) SetTodos(todos []Todo) {
	tc.delta.Todos = append(make([]Todo, 0, len(todos)), todos...)
}

// SetState records a write to an extension field.
func (tc *ToolContext) SetState(field string, value any) {
	if tc.delta.Extra == nil {
		tc.delta.Extra = map[string]any{}
	}
	tc.delta.Extra[field] = value
}

// ReplaceState records an extension value stored as-is, bypassing the
// field's reducer.
func (tc *ToolContext) ReplaceState(field string, value any) {
	if tc.delta.ReplaceExtra == nil {
		tc.delta.ReplaceExtra = map[string]any{}
	}
	tc.delta.ReplaceExtra[field] = value
}

// MergeUpdate folds a foreign partial update (e.g. from a child dispatch)
// into this call's pending writes. Messages are ignored: a tool contributes
// exactly one result message, appended by the loop.
func (tc *ToolContext) MergeUpdate(u Update) {
	for k, v := range u.Artifacts {
		tc.WriteArtifact(k, v)
	}
	if u.Todos != nil {
		tc.SetTodos(u.Todos)
	}
	for k, v := range u.Extra {
		tc.SetState(k, v)
	}
	for k, v := range u.ReplaceExtra {
		tc.ReplaceState(k, v)
	}
}

// Delta returns a copy of the accumulated update.
func (tc *ToolContext) Delta() Update {
	out := Update{
		Todos: cloneTodos(tc.delta.Todos),
	}
	if tc.delta.Artifacts != nil {
		out.Artifacts = tc.delta.Artifacts.Clone()
	}
	if tc.delta.Extra != nil {
		out.Extra = make(map[string]any, len(tc.delta.Extra))
		for k, v := range tc.delta.Extra {
			out.Extra[k] = v
		}
	}
	if tc.delta.ReplaceExtra != nil {
		out.ReplaceExtra = make(map[string]any, len(tc.delta.ReplaceExtra))
		for k, v := range tc.delta.ReplaceExtra {
			out.ReplaceExtra[k] = v
		}
	}
	return out
}
