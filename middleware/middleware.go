// Package middleware implements the composable units that shape every model
// request of a control loop. A middleware can extend the state schema,
// contribute tools and rewrite the outgoing request; optional hooks run once
// before the loop starts and over every tool result.
package middleware

import (
	"context"
	"sort"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
)

// Middleware is the declarative contract every pipeline stage implements.
//
// ModifyRequest runs immediately before each model call. It must treat the
// state as read-only and must not call a model itself.
type Middleware interface {
	Name() string
	StateFields() map[string]core.Field
	Tools() []tool.Tool
	ModifyRequest(req model.Request, st core.State) (model.Request, error)
}

// BeforeAgentHook is implemented by middleware that seeds state once per
// invocation, before the first model call.
type BeforeAgentHook interface {
	BeforeAgent(ctx context.Context, st core.State) (core.Update, error)
}

// ToolResultWrapper is implemented by middleware that post-processes tool
// result text. Writes go through tc and merge with the call's own update.
type ToolResultWrapper interface {
	WrapToolResult(tc *core.ToolContext, call core.ToolCall, result string) string
}

// Base provides no-op defaults; embed it and override what you need.
type Base struct{}

// StateFields implements Middleware.
func (Base) StateFields() map[string]core.Field { return nil }

// Tools implements Middleware.
func (Base) Tools() []tool.Tool { return nil }

// ModifyRequest implements Middleware.
func (Base) ModifyRequest(req model.Request, _ core.State) (model.Request, error) { return req, nil }

// AppendSystemPrompt appends text after the current system prompt,
// separated by a blank line.
func AppendSystemPrompt(req model.Request, text string) model.Request {
	if text == "" {
		return req
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = text
	} else {
		req.SystemPrompt = req.SystemPrompt + "\n\n" + text
	}
	return req
}

// PrependSystemPrompt places text before the current system prompt.
func PrependSystemPrompt(req model.Request, text string) model.Request {
	if text == "" {
		return req
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = text
	} else {
		req.SystemPrompt = text + "\n\n" + req.SystemPrompt
	}
	return req
}

// Without returns mws minus the middleware with the given names.
func Without(mws []Middleware, names ...string) []Middleware {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[n] = struct{}{}
	}
	out := make([]Middleware, 0, len(mws))
	for _, m := range mws {
		if _, ok := skip[m.Name()]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

func sortedFieldNames(fields map[string]core.Field) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
