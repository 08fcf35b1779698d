package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
name: researcher
system_prompt: You are a careful researcher.
max_iterations: 40
max_parallel_tools: 4
tool_timeout: 30s
dispatch_timeout: 2m
memory_path: ./agent.md
evict_token_limit: 1000
builtin_tools: [write_todos, read_artifact]
model:
  provider: openai
  model: gpt-4o
  api_key: sk-test
  requests_per_minute: 60
models:
  - name: cheap
    provider: anthropic
    model: claude-3-5-haiku-latest
subagents:
  - name: critic
    description: Reviews drafts
    prompt: You critique reports.
    tools: [read_artifact]
    model: cheap
  - name: scout
    description: Gathers sources
    prompt: You collect links.
mcp_servers:
  - name: search
    command: search-server
    args: [--stdio]
    timeout: 10s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "researcher", cfg.Name)
	assert.Equal(t, 40, cfg.MaxIterations)
	assert.Equal(t, 4, cfg.MaxParallelTools)
	assert.Equal(t, 30*time.Second, cfg.GetToolTimeout())
	assert.Equal(t, 2*time.Minute, cfg.GetDispatchTimeout())
	require.NotNil(t, cfg.EvictTokenLimit)
	assert.Equal(t, 1000, *cfg.EvictTokenLimit)
	assert.Equal(t, []string{"write_todos", "read_artifact"}, cfg.BuiltinTools)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 60, cfg.Model.RequestsPerMinute)

	require.Len(t, cfg.Subagents, 2)
	assert.Equal(t, []string{"read_artifact"}, cfg.Subagents[0].Tools)
	assert.Nil(t, cfg.Subagents[1].Tools)
	assert.Equal(t, 10*time.Second, cfg.MCPServers[0].GetTimeout())
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("name: tiny\n"))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.MaxIterations)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Nil(t, cfg.EvictTokenLimit)
	assert.Nil(t, cfg.BuiltinTools)
	assert.Zero(t, cfg.GetToolTimeout())
	assert.Zero(t, cfg.GetDispatchTimeout())
}

func TestParse_EnvAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg, err := Parse([]byte("model:\n  provider: openai\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Model.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"duplicate subagent", "subagents:\n  - name: a\n  - name: a\n", "duplicate subagent"},
		{"task tool", "subagents:\n  - name: a\n    tools: [task]\n", "may not use the task tool"},
		{"unnamed subagent", "subagents:\n  - description: x\n", "name is required"},
		{"unknown model", "subagents:\n  - name: a\n    model: nope\n", "unknown model"},
		{"bad provider", "model:\n  provider: llama\n", "invalid provider"},
		{"bad duration", "tool_timeout: soon\n", "tool_timeout"},
		{"negative iterations", "max_iterations: -1\n", "max_iterations"},
		{"mcp without command", "mcp_servers:\n  - name: x\n", "name and command are required"},
		{"bad log format", "logging:\n  format: xml\n", "invalid format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated"))
	require.ErrorContains(t, err, "failed to parse config")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "researcher", cfg.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config")
}
