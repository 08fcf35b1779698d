package agent

import (
	"strings"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime, derived from the
// current loop state.
type Provider interface {
	Instruction(st core.State) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(st core.State) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(st core.State) (string, error) { return f(st) }

// Instruction represents either a static instruction string or a dynamic provider.
// This mirrors a union of string | provider in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(st core.State) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
// Text containing template actions is rendered against the state, so
// prompts can reference e.g. {{.Extra.agent_memory}} or {{len .Todos}}.
func (i Instruction) Resolve(st core.State) (string, error) {
	text := i.text
	if i.provider != nil {
		var err error
		if text, err = i.provider.Instruction(st); err != nil {
			return "", err
		}
	}
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	return util.RenderTemplate(text, st)
}
