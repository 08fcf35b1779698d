package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/deepmesh/core"
)

func TestCollect_ReturnsFinalResponse(t *testing.T) {
	m := NewMockModel("mock").Reply("hello")

	resp, err := Collect(context.Background(), m, Request{Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, core.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestCollect_PropagatesBackendError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockModel("mock").Fail(boom)

	_, err := Collect(context.Background(), m, Request{})
	require.ErrorIs(t, err, boom)
}

func TestCollect_NoFinalResponse(t *testing.T) {
	m := NewFunc("empty", func(context.Context, Request) (core.Message, error) { return core.Message{}, nil })

	resp, err := Collect(context.Background(), m, Request{})
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, resp.Message.Role)

	closed := &closedModel{}
	_, err = Collect(context.Background(), closed, Request{})
	require.ErrorIs(t, err, ErrNoResponse)
}

type closedModel struct{}

func (closedModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	r := make(chan Response)
	e := make(chan error)
	close(r)
	close(e)
	return r, e
}

func (closedModel) Info() Info { return Info{Name: "closed"} }

func TestMockModel_ScriptAndFallback(t *testing.T) {
	m := NewMockModel("mock").
		CallTools(core.ToolCall{ID: "c1", Name: "write_todos", Arguments: `{"todos":[]}`}).
		Reply("done")

	first, err := Collect(context.Background(), m, Request{})
	require.NoError(t, err)
	assert.True(t, first.Message.HasToolCalls())
	assert.Equal(t, "tool_calls", first.FinishReason)

	second, err := Collect(context.Background(), m, Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", second.Message.Content)

	_, err = Collect(context.Background(), m, Request{})
	require.ErrorIs(t, err, ErrScriptExhausted)

	m.WithFallback(func(req Request) (core.Message, error) {
		return core.NewAssistantMessage("echo: " + req.SystemPrompt), nil
	})
	third, err := Collect(context.Background(), m, Request{SystemPrompt: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "echo: sys", third.Message.Content)

	assert.Equal(t, 4, m.Calls())
	assert.Equal(t, "sys", m.Requests()[3].SystemPrompt)
}

func TestRequest_ToolNames(t *testing.T) {
	req := Request{Tools: []ToolDefinition{
		NewToolDefinition("a", "", nil),
		NewToolDefinition("b", "", nil),
	}}
	assert.Equal(t, []string{"a", "b"}, req.ToolNames())
}

func TestRateLimited_WaitHonoursContext(t *testing.T) {
	m := NewRateLimited(NewMockModel("mock").Reply("one").Reply("two"), 1, 1)

	_, err := Collect(context.Background(), m, Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = Collect(ctx, m, Request{})
	require.Error(t, err)
	assert.Equal(t, "mock", m.Info().Name)
}

func TestRateLimited_Unlimited(t *testing.T) {
	m := NewRateLimited(NewMockModel("mock").Reply("a").Reply("b").Reply("c"), 0, 0)
	for i := 0; i < 3; i++ {
		_, err := Collect(context.Background(), m, Request{})
		require.NoError(t, err)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "mock/m", Describe(NewMockModel("m")))
}
