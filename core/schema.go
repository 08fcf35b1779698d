package core

import (
	"fmt"
	"sort"
)

// Reducer folds an update value into the current value of a state field.
// Reducers must not mutate either argument.
type Reducer func(current, update any) any

// ReplaceReducer discards the current value.
func ReplaceReducer(_, update any) any { return update }

// Field declares an extension state field contributed by middleware.
type Field struct {
	Default func() any // Initial value, nil leaves the field unset
	Reduce  Reducer    // Nil means ReplaceReducer
}

// Schema is the merge engine: it knows the reducer of every state field.
// The built-in fields have fixed reducers:
//
//	messages  - append, in call order
//	todos     - full replacement; within one step the last writer in call order wins
//	artifacts - shallow merge, last write per key wins
//
// A nil *Schema is valid and treats every extension field with ReplaceReducer.
type Schema struct {
	fields map[string]Field
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: map[string]Field{}}
}

// Add registers an extension field. Built-in names and duplicates are rejected.
func (s *Schema) Add(name string, f Field) error {
	switch name {
	case "", FieldMessages, FieldTodos, FieldArtifacts:
		return fmt.Errorf("state field %q is reserved", name)
	}
	if _, exists := s.fields[name]; exists {
		return fmt.Errorf("state field %q already declared", name)
	}
	s.fields[name] = f
	return nil
}

// Fields returns the declared extension field names in lexical order.
func (s *Schema) Fields() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.fields))
	for k := range s.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Init returns a copy of st with defaults filled for unset extension fields.
func (s *Schema) Init(st State) State {
	out := st.Clone()
	if s == nil {
		return out
	}
	for name, f := range s.fields {
		if f.Default == nil {
			continue
		}
		if _, ok := out.Extra[name]; ok {
			continue
		}
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra[name] = f.Default()
	}
	return out
}

// Apply merges u into current and returns the new state.
//
// Responsibilities:
//   - Appends Messages
//   - Replaces the todo list when Todos is non-nil; an empty slice clears it
//   - Merges Artifacts key by key
//   - Folds Extra values in through the field's reducer (replace when the
//     field is undeclared)
//   - Stores ReplaceExtra values as-is after Extra, bypassing reducers
//
// Concurrency:
//
//	Neither argument is modified and the result shares no slices or maps with
//	them, so callers may keep using the previous state and Apply is safe to
//	call concurrently. Extension values are copied by reference; reducers must
//	return new values rather than mutate their inputs.
//
// Example:
//
//	st = schema.Apply(st, core.Update{
//	  Artifacts: core.Artifacts{"report.md": "draft"},
//	  Extra:     map[string]any{"visited": []string{"a"}},
//	})
func (s *Schema) Apply(current State, u Update) State {
	next := current.Clone()

	if len(u.Messages) > 0 {
		next.Messages = append(next.Messages, cloneMessages(u.Messages)...)
	}

	if u.Todos != nil {
		next.Todos = cloneTodos(u.Todos)
	}

	for k, v := range u.Artifacts {
		next.Artifacts[k] = v
	}

	for k, v := range u.Extra {
		if next.Extra == nil {
			next.Extra = map[string]any{}
		}
		next.Extra[k] = s.reducer(k)(next.Extra[k], v)
	}

	for k, v := range u.ReplaceExtra {
		if next.Extra == nil {
			next.Extra = map[string]any{}
		}
		next.Extra[k] = v
	}

	return next
}

// ApplyAll applies updates sequentially in slice order.
func (s *Schema) ApplyAll(current State, updates ...Update) State {
	next := current.Clone()
	for _, u := range updates {
		next = s.Apply(next, u)
	}
	return next
}

func (s *Schema) reducer(name string) Reducer {
	if s == nil {
		return ReplaceReducer
	}
	if f, ok := s.fields[name]; ok && f.Reduce != nil {
		return f.Reduce
	}
	return ReplaceReducer
}

// Apply merges u into current using only the built-in reducers.
func Apply(current State, u Update) State {
	return (*Schema)(nil).Apply(current, u)
}
