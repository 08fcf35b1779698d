package core

import "sort"

// Built-in state field names. Extension fields contributed by middleware
// must not reuse them.
const (
	FieldMessages  = "messages"
	FieldTodos     = "todos"
	FieldArtifacts = "artifacts"
)

// Artifacts is the flat name -> text mapping used as the agent's working
// documents. Keys are case-sensitive and carry no path semantics.
type Artifacts map[string]string

// Clone returns an independent copy. A nil mapping clones to an empty one.
func (a Artifacts) Clone() Artifacts {
	out := make(Artifacts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Names returns the artifact names in lexical order.
func (a Artifacts) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Diff returns the entries of a that are new or changed compared to base.
func (a Artifacts) Diff(base Artifacts) Artifacts {
	var out Artifacts
	for k, v := range a {
		if old, ok := base[k]; ok && old == v {
			continue
		}
		if out == nil {
			out = Artifacts{}
		}
		out[k] = v
	}
	return out
}

// State is the shared state of one control loop invocation. It is owned by
// exactly one loop; children receive a derived copy, never the live value.
type State struct {
	Messages  []Message      `json:"messages"`
	Todos     []Todo         `json:"todos"`
	Artifacts Artifacts      `json:"artifacts"`
	Extra     map[string]any `json:"extra,omitempty"` // Middleware contributed fields
}

// NewState creates a state seeded with the given messages.
func NewState(msgs ...Message) State {
	return State{
		Messages:  cloneMessages(msgs),
		Todos:     []Todo{},
		Artifacts: Artifacts{},
	}
}

// Clone returns a copy sharing no slices or maps with s. Extra values are
// copied shallowly and must be treated as immutable.
func (s State) Clone() State {
	out := State{
		Messages:  cloneMessages(s.Messages),
		Todos:     cloneTodos(s.Todos),
		Artifacts: s.Artifacts.Clone(),
	}
	if out.Todos == nil {
		out.Todos = []Todo{}
	}
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// LastMessage returns the final conversation entry.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Get returns an extension field value.
func (s State) Get(field string) (any, bool) {
	v, ok := s.Extra[field]
	return v, ok
}

// GetString returns an extension field as string, or "" when absent or not a string.
func (s State) GetString(field string) string {
	v, _ := s.Extra[field].(string)
	return v
}

// Update is a partial state update produced by tools, middleware and child
// dispatches. Zero fields leave the corresponding state untouched, with one
// nuance: a non-nil Todos (even empty) replaces the whole todo list.
type Update struct {
	Messages  []Message
	Todos     []Todo
	Artifacts Artifacts
	Extra     map[string]any
	// ReplaceExtra stores extension values as-is, bypassing field reducers.
	// It carries whole values that already include the current state, such
	// as a child dispatch's final extension fields.
	ReplaceExtra map[string]any
}

// IsEmpty reports whether applying u would leave any state unchanged.
func (u Update) IsEmpty() bool {
	return len(u.Messages) == 0 && u.Todos == nil && len(u.Artifacts) == 0 && len(u.Extra) == 0 && len(u.ReplaceExtra) == 0
}
