package middleware

import (
	"context"
	"fmt"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
)

// Pipeline is an ordered, composed middleware set together with the state
// schema and tool registry it produces.
//
// Responsibilities:
//   - Registers every middleware's state fields into one schema, rejecting
//     a field declared twice
//   - Collects middleware tools ahead of host tools into one registry
//   - Runs BeforeAgent hooks and ModifyRequest in declaration order
//   - Chains ToolResultWrapper hooks over each tool result
//
// Concurrency:
//
//	A Pipeline is immutable after Compose and shared by all invocations of an
//	agent. Middleware must not keep per-invocation state in their own fields.
//
// Error Semantics:
//
//	Compose fails on duplicate state fields or tool names. A ModifyRequest or
//	BeforeAgent error aborts the run that triggered it.
type Pipeline struct {
	middleware []Middleware
	schema     *core.Schema
	registry   *tool.Registry
}

// Compose builds a pipeline. Middleware tools register first, in middleware
// order, followed by extraTools. Duplicate middleware names, state fields or
// tool names are configuration errors.
func Compose(mws []Middleware, extraTools ...tool.Tool) (*Pipeline, error) {
	p := &Pipeline{
		middleware: append([]Middleware(nil), mws...),
		schema:     core.NewSchema(),
		registry:   &tool.Registry{},
	}

	seen := map[string]struct{}{}
	for _, m := range p.middleware {
		if m == nil {
			return nil, fmt.Errorf("compose pipeline: nil middleware")
		}
		if _, dup := seen[m.Name()]; dup {
			return nil, fmt.Errorf("compose pipeline: duplicate middleware %q", m.Name())
		}
		seen[m.Name()] = struct{}{}

		for _, name := range sortedFieldNames(m.StateFields()) {
			if err := p.schema.Add(name, m.StateFields()[name]); err != nil {
				return nil, fmt.Errorf("compose pipeline: middleware %q: %w", m.Name(), err)
			}
		}
		for _, t := range m.Tools() {
			if err := p.registry.Register(t); err != nil {
				return nil, fmt.Errorf("compose pipeline: middleware %q: %w", m.Name(), err)
			}
		}
	}

	for _, t := range extraTools {
		if err := p.registry.Register(t); err != nil {
			return nil, fmt.Errorf("compose pipeline: %w", err)
		}
	}

	return p, nil
}

// Middleware returns the composed middleware in order.
func (p *Pipeline) Middleware() []Middleware { return append([]Middleware(nil), p.middleware...) }

// Schema returns the state schema including middleware extension fields.
func (p *Pipeline) Schema() *core.Schema { return p.schema }

// Registry returns the tools visible to the loop.
func (p *Pipeline) Registry() *tool.Registry { return p.registry }

// Restrict returns a copy of the pipeline whose registry only offers the
// named tools. Middleware, schema and hooks are unchanged.
func (p *Pipeline) Restrict(names []string) (*Pipeline, error) {
	reg, err := p.registry.Subset(names)
	if err != nil {
		return nil, fmt.Errorf("restrict pipeline: %w", err)
	}
	return &Pipeline{middleware: p.middleware, schema: p.schema, registry: reg}, nil
}

// Has reports whether a middleware named name is part of the pipeline.
func (p *Pipeline) Has(name string) bool {
	for _, m := range p.middleware {
		if m.Name() == name {
			return true
		}
	}
	return false
}

// BuildRequest assembles the request for the next model call. Each
// middleware transforms the request in configured order, so system prompt
// contributions appear in that order after the base prompt.
func (p *Pipeline) BuildRequest(systemPrompt string, st core.State) (model.Request, error) {
	req := model.Request{
		SystemPrompt: systemPrompt,
		Messages:     append([]core.Message(nil), st.Messages...),
		Tools:        p.registry.Definitions(),
	}

	for _, m := range p.middleware {
		next, err := m.ModifyRequest(req, st)
		if err != nil {
			return model.Request{}, fmt.Errorf("middleware %q: %w", m.Name(), err)
		}
		req = next
	}

	return req, nil
}

// BeforeAgent runs every BeforeAgentHook in order, applying each update
// before the next hook sees the state.
func (p *Pipeline) BeforeAgent(ctx context.Context, st core.State) (core.State, error) {
	for _, m := range p.middleware {
		hook, ok := m.(BeforeAgentHook)
		if !ok {
			continue
		}
		upd, err := hook.BeforeAgent(ctx, st)
		if err != nil {
			return st, fmt.Errorf("middleware %q: %w", m.Name(), err)
		}
		st = p.schema.Apply(st, upd)
	}
	return st, nil
}

// WrapToolResult passes a tool result through every ToolResultWrapper in order.
func (p *Pipeline) WrapToolResult(tc *core.ToolContext, call core.ToolCall, result string) string {
	for _, m := range p.middleware {
		if w, ok := m.(ToolResultWrapper); ok {
			result = w.WrapToolResult(tc, call, result)
		}
	}
	return result
}
