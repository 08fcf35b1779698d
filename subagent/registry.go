package subagent

import (
	"fmt"
	"strings"
)

type entry struct {
	spec     Spec
	runnable Runnable
}

// Registry maps subagent names to compiled runnables. It is built once and
// read-only afterwards.
type Registry struct {
	entries []entry
	index   map[string]int
}

// NewRegistry compiles every spec against env. Duplicate or empty names and
// compile failures are configuration errors.
func NewRegistry(env Environment, specs ...Spec) (*Registry, error) {
	r := &Registry{index: map[string]int{}}
	for _, s := range specs {
		name := s.Name()
		if name == "" {
			return nil, fmt.Errorf("subagent registry: empty subagent name")
		}
		if _, dup := r.index[name]; dup {
			return nil, fmt.Errorf("subagent registry: duplicate subagent %q", name)
		}

		runnable, err := s.Compile(env)
		if err != nil {
			return nil, err
		}

		r.index[name] = len(r.entries)
		r.entries = append(r.entries, entry{spec: s, runnable: runnable})
	}
	return r, nil
}

// Get returns the compiled subagent named name.
func (r *Registry) Get(name string) (Runnable, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.entries[i].runnable, true
}

// Names returns subagent names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.spec.Name()
	}
	return names
}

// Describe renders one "- name: description" line per subagent.
func (r *Registry) Describe() string {
	lines := make([]string, len(r.entries))
	for i, e := range r.entries {
		lines[i] = fmt.Sprintf("- %s: %s", e.spec.Name(), e.spec.Description())
	}
	return strings.Join(lines, "\n")
}
