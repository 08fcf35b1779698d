package testutil

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/tool"
)

// StateBuilder provides a fluent helper for constructing states in tests.
// Example:
//
//	st := NewStateBuilder().User("hello").Artifact("notes.md", "x").Build()
type StateBuilder struct {
	st core.State
}

// NewStateBuilder creates a builder for an empty state.
func NewStateBuilder() *StateBuilder { return &StateBuilder{st: core.NewState()} }

// User appends a user message (chainable).
func (b *StateBuilder) User(text string) *StateBuilder {
	b.st.Messages = append(b.st.Messages, core.NewUserMessage(text))
	return b
}

// Assistant appends an assistant message (chainable).
func (b *StateBuilder) Assistant(text string, calls ...core.ToolCall) *StateBuilder {
	b.st.Messages = append(b.st.Messages, core.NewAssistantMessage(text, calls...))
	return b
}

// Todo appends a todo entry (chainable).
func (b *StateBuilder) Todo(content string, status core.TodoStatus) *StateBuilder {
	b.st.Todos = append(b.st.Todos, core.Todo{Content: content, Status: status})
	return b
}

// Artifact sets an artifact (chainable).
func (b *StateBuilder) Artifact(name, content string) *StateBuilder {
	b.st.Artifacts[name] = content
	return b
}

// Extra sets an extension field (chainable).
func (b *StateBuilder) Extra(field string, value any) *StateBuilder {
	if b.st.Extra == nil {
		b.st.Extra = map[string]any{}
	}
	b.st.Extra[field] = value
	return b
}

// Build returns an independent copy of the state.
func (b *StateBuilder) Build() core.State { return b.st.Clone() }

// Call builds a tool call with JSON encoded args. It panics on encoding
// errors, which only occur for unsupported test values.
func Call(id, name string, args map[string]any) core.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("testutil.Call: %v", err))
	}
	return core.ToolCall{ID: id, Name: name, Arguments: string(raw)}
}

// SleepyWriter returns a tool that writes args.value to artifact args.key
// after a random delay of up to maxDelay. It records peak concurrency.
type SleepyWriter struct {
	*tool.FunctionTool
	active atomic.Int32
	peak   atomic.Int32
}

// NewSleepyWriter creates a SleepyWriter named name.
func NewSleepyWriter(name string, maxDelay time.Duration) *SleepyWriter {
	w := &SleepyWriter{}
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"value": map[string]any{"type": "string"},
		},
		"required": []string{"key", "value"},
	}
	w.FunctionTool = tool.NewFunctionTool(name, "writes an artifact slowly", params,
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			n := w.active.Add(1)
			defer w.active.Add(-1)
			for {
				p := w.peak.Load()
				if n <= p || w.peak.CompareAndSwap(p, n) {
					break
				}
			}

			if maxDelay > 0 {
				select {
				case <-time.After(time.Duration(rand.Int63n(int64(maxDelay)))):
				case <-tc.Context().Done():
					return nil, tc.Context().Err()
				}
			}

			key, _ := args["key"].(string)
			value, _ := args["value"].(string)
			tc.WriteArtifact(key, value)
			return "wrote " + key, nil
		})
	return w
}

// Peak returns the highest number of concurrent calls observed.
func (w *SleepyWriter) Peak() int { return int(w.peak.Load()) }
