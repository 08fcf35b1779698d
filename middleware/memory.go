package middleware

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/model"
)

const (
	// AgentMemoryName is the name of the agent memory middleware.
	AgentMemoryName = "agent_memory"

	// FieldAgentMemory is the state field holding the loaded memory text.
	FieldAgentMemory = "agent_memory"
)

// AgentMemoryOptions configures the agent memory middleware.
type AgentMemoryOptions struct {
	// Path of the memory file, typically ".../agent.md".
	Path string
	// SystemPrompt is appended after the prompt sections of earlier middleware.
	SystemPrompt string
	// ReadFile loads Path. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// AgentMemory loads a long-lived instruction file once per invocation into
// the agent_memory state field and prepends it to every system prompt.
type AgentMemory struct {
	Base
	opts AgentMemoryOptions
}

// NewAgentMemory creates the agent memory middleware.
func NewAgentMemory(optFns ...func(o *AgentMemoryOptions)) *AgentMemory {
	opts := AgentMemoryOptions{
		SystemPrompt: DefaultAgentMemoryPrompt,
		ReadFile:     os.ReadFile,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &AgentMemory{opts: opts}
}

// Name implements Middleware.
func (m *AgentMemory) Name() string { return AgentMemoryName }

// StateFields implements Middleware.
func (m *AgentMemory) StateFields() map[string]core.Field {
	return map[string]core.Field{
		FieldAgentMemory: {Default: func() any { return "" }, Reduce: core.ReplaceReducer},
	}
}

// BeforeAgent loads the memory file unless the state already carries memory.
// A missing file yields empty memory.
func (m *AgentMemory) BeforeAgent(_ context.Context, st core.State) (core.Update, error) {
	if st.GetString(FieldAgentMemory) != "" || m.opts.Path == "" {
		return core.Update{}, nil
	}

	data, err := m.opts.ReadFile(m.opts.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Update{}, nil
		}
		return core.Update{}, fmt.Errorf("load agent memory %q: %w", m.opts.Path, err)
	}

	return core.Update{Extra: map[string]any{FieldAgentMemory: string(data)}}, nil
}

// ModifyRequest implements Middleware.
func (m *AgentMemory) ModifyRequest(req model.Request, st core.State) (model.Request, error) {
	memory := strings.TrimRight(st.GetString(FieldAgentMemory), "\n")
	req = PrependSystemPrompt(req, "<agent_memory>\n"+memory+"\n</agent_memory>")
	return AppendSystemPrompt(req, m.opts.SystemPrompt), nil
}
