package tool

import (
	"fmt"

	"github.com/hupe1980/deepmesh/model"
)

// Registry is an ordered, name-unique set of tools.
//
// Responsibilities:
//   - Rejects duplicate names at registration
//   - Preserves registration order, which is the order definitions are
//     offered to the model
//   - Resolves tool calls by name during execution
//
// Concurrency:
//
//	A Registry is filled during composition and only read afterwards; reads
//	are safe from concurrent tool calls once registration is complete.
//
// Example:
//
//	reg, err := tool.NewRegistry(searchTool, fetchTool)
//	if err != nil {
//	  return err
//	}
//	t, ok := reg.Get("search")
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry creates a registry holding tools, failing on duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{index: map[string]int{}}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be non-empty and unique.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if r.index == nil {
		r.index = map[string]int{}
	}
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("register tool: duplicate tool name %q", name)
	}
	r.index[name] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tools[i], true
}

// Has reports whether a tool named name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	return append([]Tool(nil), r.tools...)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return names
}

// Definitions renders the model facing tool definitions.
func (r *Registry) Definitions() []model.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]model.ToolDefinition, len(r.tools))
	for i, t := range r.tools {
		defs[i] = model.NewToolDefinition(t.Name(), t.Description(), t.Parameters())
	}
	return defs
}

// Without returns a copy of the registry minus the named tools.
func (r *Registry) Without(names ...string) *Registry {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[n] = struct{}{}
	}
	out := &Registry{index: map[string]int{}}
	for _, t := range r.Tools() {
		if _, ok := skip[t.Name()]; ok {
			continue
		}
		_ = out.Register(t)
	}
	return out
}

// Subset returns a registry with only the named tools, in the order given.
// Unknown names are reported as an error.
func (r *Registry) Subset(names []string) (*Registry, error) {
	out := &Registry{index: map[string]int{}}
	for _, n := range names {
		t, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownTool, n)
		}
		if out.Has(n) {
			continue
		}
		_ = out.Register(t)
	}
	return out, nil
}
