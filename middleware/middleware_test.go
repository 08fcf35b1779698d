package middleware

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
	"github.com/hupe1980/deepmesh/tool/builtin"
)

type promptMiddleware struct {
	Base
	name   string
	prompt string
	fields map[string]core.Field
	tools  []tool.Tool
}

func (m *promptMiddleware) Name() string                       { return m.name }
func (m *promptMiddleware) StateFields() map[string]core.Field { return m.fields }
func (m *promptMiddleware) Tools() []tool.Tool                 { return m.tools }
func (m *promptMiddleware) ModifyRequest(req model.Request, _ core.State) (model.Request, error) {
	return AppendSystemPrompt(req, m.prompt), nil
}

func echoTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "", nil, func(*core.ToolContext, map[string]any) (any, error) { return name, nil })
}

func TestPipeline_PromptOrderIsConfigOrder(t *testing.T) {
	p, err := Compose([]Middleware{
		&promptMiddleware{name: "first", prompt: "A"},
		&promptMiddleware{name: "second", prompt: "B"},
	})
	require.NoError(t, err)

	req, err := p.BuildRequest("base", core.NewState(core.NewUserMessage("hi")))
	require.NoError(t, err)
	assert.Equal(t, "base\n\nA\n\nB", req.SystemPrompt)
	assert.Len(t, req.Messages, 1)

	req, err = p.BuildRequest("", core.NewState())
	require.NoError(t, err)
	assert.Equal(t, "A\n\nB", req.SystemPrompt)
}

func TestPipeline_ToolsAndSchema(t *testing.T) {
	p, err := Compose([]Middleware{
		&promptMiddleware{name: "m1", tools: []tool.Tool{echoTool("a")}, fields: map[string]core.Field{"notes": {}}},
		&promptMiddleware{name: "m2", tools: []tool.Tool{echoTool("b")}},
	}, echoTool("host"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "host"}, p.Registry().Names())
	assert.Equal(t, []string{"notes"}, p.Schema().Fields())
	assert.True(t, p.Has("m2"))
	assert.False(t, p.Has("task"))

	req, err := p.BuildRequest("", core.NewState())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "host"}, req.ToolNames())

	narrow, err := p.Restrict([]string{"host", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"host", "a"}, narrow.Registry().Names())
	assert.Equal(t, []string{"a", "b", "host"}, p.Registry().Names())

	_, err = p.Restrict([]string{"zzz"})
	require.Error(t, err)
}

func TestPipeline_ConfigurationErrors(t *testing.T) {
	_, err := Compose([]Middleware{&promptMiddleware{name: "x"}, &promptMiddleware{name: "x"}})
	assert.ErrorContains(t, err, "duplicate middleware")

	_, err = Compose([]Middleware{&promptMiddleware{name: "x", tools: []tool.Tool{echoTool("a")}}}, echoTool("a"))
	assert.ErrorContains(t, err, "duplicate tool")

	_, err = Compose([]Middleware{&promptMiddleware{name: "x", fields: map[string]core.Field{core.FieldTodos: {}}}})
	assert.ErrorContains(t, err, "reserved")
}

type failingMiddleware struct{ Base }

func (failingMiddleware) Name() string { return "failing" }
func (failingMiddleware) ModifyRequest(model.Request, core.State) (model.Request, error) {
	return model.Request{}, errors.New("nope")
}

func TestPipeline_ModifyRequestError(t *testing.T) {
	p, err := Compose([]Middleware{failingMiddleware{}})
	require.NoError(t, err)

	_, err = p.BuildRequest("", core.NewState())
	assert.ErrorContains(t, err, `middleware "failing": nope`)
}

func TestWithout(t *testing.T) {
	mws := []Middleware{NewTodoList(), NewArtifacts(), &promptMiddleware{name: "task"}}
	out := Without(mws, "task")
	require.Len(t, out, 2)
	assert.Equal(t, TodoListName, out[0].Name())
	assert.Len(t, mws, 3)
}

func TestTodoList(t *testing.T) {
	m := NewTodoList(func(o *TodoListOptions) { o.SystemPrompt = "plan" })
	require.Len(t, m.Tools(), 1)
	assert.Equal(t, builtin.WriteTodosName, m.Tools()[0].Name())

	req, err := m.ModifyRequest(model.Request{SystemPrompt: "base"}, core.NewState())
	require.NoError(t, err)
	assert.Equal(t, "base\n\nplan", req.SystemPrompt)
}

func newEvictCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "call_9", "search", core.NewState(), nil)
}

func TestArtifacts_EvictsLargeResults(t *testing.T) {
	m := NewArtifacts(func(o *ArtifactsOptions) { o.EvictTokenLimit = 5 })

	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "line")
	}
	big := strings.Join(lines, "\n")

	tc := newEvictCtx()
	out := m.WrapToolResult(tc, core.ToolCall{ID: "call_9", Name: "search"}, big)

	assert.Contains(t, out, "large_tool_results/call_9")
	assert.Contains(t, out, "    10\tline")
	assert.NotContains(t, out, "    11\tline")
	assert.Equal(t, big, tc.Delta().Artifacts["large_tool_results/call_9"])
}

func TestArtifacts_ThresholdIsFourCharsPerToken(t *testing.T) {
	m := NewArtifacts(func(o *ArtifactsOptions) { o.EvictTokenLimit = 5 })

	tc := newEvictCtx()
	assert.Equal(t, strings.Repeat("x", 20), m.WrapToolResult(tc, core.ToolCall{ID: "1", Name: "search"}, strings.Repeat("x", 20)))
	assert.True(t, tc.Delta().IsEmpty())

	out := m.WrapToolResult(tc, core.ToolCall{ID: "1", Name: "search"}, strings.Repeat("x", 21))
	assert.Contains(t, out, "Tool result too large")
}

func TestArtifacts_SkipsArtifactToolsAndDisabled(t *testing.T) {
	big := strings.Repeat("y", 1000)

	m := NewArtifacts(func(o *ArtifactsOptions) { o.EvictTokenLimit = 1 })
	assert.Equal(t, big, m.WrapToolResult(newEvictCtx(), core.ToolCall{ID: "1", Name: builtin.ReadArtifactName}, big))

	off := NewArtifacts(func(o *ArtifactsOptions) { o.EvictTokenLimit = 0 })
	assert.Equal(t, big, off.WrapToolResult(newEvictCtx(), core.ToolCall{ID: "1", Name: "search"}, big))
}

type fixedCounter int

func (c fixedCounter) CountTokens(string) int { return int(c) }

func TestArtifacts_CustomTokenCounter(t *testing.T) {
	m := NewArtifacts(func(o *ArtifactsOptions) {
		o.EvictTokenLimit = 100
		o.TokenCounter = fixedCounter(101)
	})
	out := m.WrapToolResult(newEvictCtx(), core.ToolCall{ID: "c", Name: "search"}, "short")
	assert.Contains(t, out, "large_tool_results/c")
}

func TestArtifacts_Tools(t *testing.T) {
	m := NewArtifacts()
	var names []string
	for _, tl := range m.Tools() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{
		builtin.ListArtifactsName,
		builtin.ReadArtifactName,
		builtin.WriteArtifactName,
		builtin.EditArtifactName,
	}, names)

	ro := NewArtifacts(func(o *ArtifactsOptions) {
		o.Tools = []string{builtin.ReadArtifactName, builtin.ListArtifactsName}
	})
	names = names[:0]
	for _, tl := range ro.Tools() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{builtin.ListArtifactsName, builtin.ReadArtifactName}, names)
}

func TestAgentMemory_LoadsAndPrepends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.md")
	require.NoError(t, os.WriteFile(path, []byte("Be concise.\n"), 0o600))

	m := NewAgentMemory(func(o *AgentMemoryOptions) {
		o.Path = path
		o.SystemPrompt = "memory help"
	})

	p, err := Compose([]Middleware{&promptMiddleware{name: "before", prompt: "B"}, m})
	require.NoError(t, err)

	st := p.Schema().Init(core.NewState())
	assert.Equal(t, "", st.GetString(FieldAgentMemory))

	st, err = p.BeforeAgent(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "Be concise.\n", st.GetString(FieldAgentMemory))

	req, err := p.BuildRequest("base", st)
	require.NoError(t, err)
	assert.Equal(t, "<agent_memory>\nBe concise.\n</agent_memory>\n\nbase\n\nB\n\nmemory help", req.SystemPrompt)
}

func TestAgentMemory_MissingFileAndPreloaded(t *testing.T) {
	m := NewAgentMemory(func(o *AgentMemoryOptions) {
		o.Path = "agent.md"
		o.ReadFile = func(string) ([]byte, error) { return nil, fs.ErrNotExist }
	})
	upd, err := m.BeforeAgent(context.Background(), core.NewState())
	require.NoError(t, err)
	assert.True(t, upd.IsEmpty())

	calls := 0
	m = NewAgentMemory(func(o *AgentMemoryOptions) {
		o.Path = "agent.md"
		o.ReadFile = func(string) ([]byte, error) { calls++; return []byte("x"), nil }
	})
	st := core.NewState()
	st.Extra = map[string]any{FieldAgentMemory: "already"}
	upd, err = m.BeforeAgent(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, upd.IsEmpty())
	assert.Zero(t, calls)
}

func TestAgentMemory_ReadError(t *testing.T) {
	m := NewAgentMemory(func(o *AgentMemoryOptions) {
		o.Path = "agent.md"
		o.ReadFile = func(string) ([]byte, error) { return nil, errors.New("permission denied") }
	})
	_, err := m.BeforeAgent(context.Background(), core.NewState())
	assert.ErrorContains(t, err, "permission denied")
}
