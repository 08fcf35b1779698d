package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/deepmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// NewToolDefinition builds a function tool definition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Request captures the normalized model input assembled by the middleware pipeline.
type Request struct {
	SystemPrompt string           `json:"system_prompt"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// ToolNames returns the names of the tools offered in the request, in order.
func (r Request) ToolNames() []string {
	names := make([]string, len(r.Tools))
	for i, t := range r.Tools {
		names[i] = t.Function.Name
	}
	return names
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// The final chunk (Partial == false) carries the complete assistant message.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
//
// Generate streams zero or more partial responses followed by exactly one
// final response, or reports a failure on the error channel. Both channels
// are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Collect when a model closes its stream without
// producing a final response.
var ErrNoResponse = errors.New("model produced no final response")

// Collect drains a Generate call and returns the final response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final    Response
		hasFinal bool
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, hasFinal = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if !hasFinal {
		return Response{}, ErrNoResponse
	}
	if final.Message.Role == "" {
		final.Message.Role = core.RoleAssistant
	}
	return final, nil
}

// Func adapts a plain function to the Model interface. The function result is
// emitted as the single final response.
type Func struct {
	info Info
	fn   func(ctx context.Context, req Request) (core.Message, error)
}

// NewFunc returns a Model backed by fn.
func NewFunc(name string, fn func(ctx context.Context, req Request) (core.Message, error)) *Func {
	return &Func{info: Info{Name: name, Provider: "func", SupportsTools: true}, fn: fn}
}

// Generate implements Model.
func (f *Func) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		msg, err := f.fn(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- Response{Message: msg, FinishReason: finishReason(msg)}
	}()

	return respCh, errCh
}

// Info implements Model.
func (f *Func) Info() Info { return f.info }

func finishReason(msg core.Message) string {
	if msg.HasToolCalls() {
		return "tool_calls"
	}
	return "stop"
}

func describe(m Model) string {
	info := m.Info()
	if info.Provider == "" {
		return info.Name
	}
	return fmt.Sprintf("%s/%s", info.Provider, info.Name)
}

// Describe returns "provider/name" for logs and spans.
func Describe(m Model) string { return describe(m) }
