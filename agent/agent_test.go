package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/testutil"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
	"github.com/hupe1980/deepmesh/tool/builtin"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func userState(text string) core.State {
	return testutil.NewStateBuilder().User(text).Build()
}

func TestAgent_PlainReplyTerminates(t *testing.T) {
	m := model.NewMockModel("mock").Reply("hi there")
	a, err := New("assistant", m)
	require.NoError(t, err)

	st, err := a.Run(context.Background(), userState("hello"))
	require.NoError(t, err)

	require.Len(t, st.Messages, 2)
	assert.Equal(t, core.RoleAssistant, st.Messages[1].Role)
	assert.Equal(t, "hi there", st.Messages[1].Content)
	assert.Equal(t, 1, m.Calls())
}

func TestAgent_TodoScenarioFullReplace(t *testing.T) {
	m := model.NewMockModel("mock").
		CallTools(testutil.Call("c1", builtin.WriteTodosName, map[string]any{
			"todos": []any{map[string]any{"content": "a", "status": "pending"}},
		})).
		CallTools(testutil.Call("c2", builtin.WriteTodosName, map[string]any{
			"todos": []any{map[string]any{"content": "b", "status": "completed"}},
		})).
		Reply("done")

	a, err := New("planner", m, func(o *Options) {
		o.Middleware = []middleware.Middleware{middleware.NewTodoList()}
	})
	require.NoError(t, err)

	st, err := a.Run(context.Background(), userState("plan"))
	require.NoError(t, err)

	assert.Equal(t, []core.Todo{{Content: "b", Status: core.TodoCompleted}}, st.Todos)
	// user, (assistant, tool) x2, assistant
	assert.Len(t, st.Messages, 6)
}

func TestAgent_SameStepTodosLastCallWins(t *testing.T) {
	m := model.NewMockModel("mock").
		CallTools(
			testutil.Call("c1", builtin.WriteTodosName, map[string]any{"todos": []any{map[string]any{"content": "first", "status": "pending"}}}),
			testutil.Call("c2", builtin.WriteTodosName, map[string]any{"todos": []any{map[string]any{"content": "second", "status": "pending"}}}),
		).
		Reply("ok")

	a, err := New("planner", m, func(o *Options) {
		o.Middleware = []middleware.Middleware{middleware.NewTodoList()}
	})
	require.NoError(t, err)

	st, err := a.Run(context.Background(), userState("plan"))
	require.NoError(t, err)
	assert.Equal(t, []core.Todo{{Content: "second", Status: core.TodoPending}}, st.Todos)
}

func TestAgent_IterationLimitExceeded(t *testing.T) {
	m := model.NewMockModel("loop").WithFallback(func(model.Request) (core.Message, error) {
		return core.NewAssistantMessage("", testutil.Call(core.NewID(), builtin.ListArtifactsName, nil)), nil
	})

	a, err := New("looper", m, func(o *Options) {
		o.MaxIterations = 3
		o.Middleware = []middleware.Middleware{middleware.NewArtifacts()}
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), userState("go"))
	require.ErrorIs(t, err, core.ErrIterationLimitExceeded)

	var limitErr *core.IterationLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)
	assert.Equal(t, 3, m.Calls())
}

func TestAgent_ConcurrentToolsMergeInCallOrder(t *testing.T) {
	for run := 0; run < 10; run++ {
		writer := testutil.NewSleepyWriter("slow_write", 5*time.Millisecond)

		calls := make([]core.ToolCall, 5)
		for i := range calls {
			calls[i] = testutil.Call(fmt.Sprintf("c%d", i), "slow_write", map[string]any{
				"key":   "shared",
				"value": fmt.Sprintf("v%d", i),
			})
		}
		calls = append(calls, testutil.Call("own", "slow_write", map[string]any{"key": "own", "value": "x"}))

		m := model.NewMockModel("mock").CallTools(calls...).Reply("done")
		a, err := New("writer", m, func(o *Options) { o.Tools = []tool.Tool{writer} })
		require.NoError(t, err)

		st, err := a.Run(context.Background(), userState("write"))
		require.NoError(t, err)

		assert.Equal(t, core.Artifacts{"shared": "v4", "own": "x"}, st.Artifacts)

		var ids []string
		for _, msg := range st.Messages {
			if msg.Role == core.RoleTool {
				ids = append(ids, msg.ToolCallID)
			}
		}
		assert.Equal(t, []string{"c0", "c1", "c2", "c3", "c4", "own"}, ids)
	}
}

func TestAgent_MaxParallelTools(t *testing.T) {
	writer := testutil.NewSleepyWriter("slow_write", 2*time.Millisecond)
	calls := []core.ToolCall{
		testutil.Call("a", "slow_write", map[string]any{"key": "a", "value": "1"}),
		testutil.Call("b", "slow_write", map[string]any{"key": "b", "value": "2"}),
		testutil.Call("c", "slow_write", map[string]any{"key": "c", "value": "3"}),
	}

	m := model.NewMockModel("mock").CallTools(calls...).Reply("done")
	a, err := New("writer", m, func(o *Options) {
		o.Tools = []tool.Tool{writer}
		o.MaxParallelTools = 1
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), userState("write"))
	require.NoError(t, err)
	assert.Equal(t, 1, writer.Peak())
}

func TestAgent_RecoverableToolFailures(t *testing.T) {
	panicky := tool.NewFunctionTool("panicky", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		panic("kaboom")
	})
	partial := tool.NewFunctionTool("partial", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.WriteArtifact("half", "written")
		return nil, errors.New("failed midway")
	})

	m := model.NewMockModel("mock").
		CallTools(
			testutil.Call("1", "missing", nil),
			testutil.Call("2", "panicky", nil),
			testutil.Call("3", "partial", nil),
			core.ToolCall{ID: "4", Name: "partial", Arguments: "{broken"},
		).
		Reply("recovered")

	a, err := New("robust", m, func(o *Options) { o.Tools = []tool.Tool{panicky, partial} })
	require.NoError(t, err)

	st, err := a.Run(context.Background(), userState("go"))
	require.NoError(t, err)

	var results []core.Message
	for _, msg := range st.Messages {
		if msg.Role == core.RoleTool {
			results = append(results, msg)
		}
	}
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.IsError)
		assert.True(t, strings.HasPrefix(r.Content, "Error: "), r.Content)
	}
	assert.Contains(t, results[0].Content, `tool "missing" not found`)
	assert.Contains(t, results[1].Content, "kaboom")
	assert.Equal(t, "Error: failed midway", results[2].Content)
	assert.Contains(t, results[3].Content, "invalid JSON arguments")

	assert.Empty(t, st.Artifacts, "failed tool writes are discarded")

	last, _ := st.LastMessage()
	assert.Equal(t, "recovered", last.Content)
}

func TestAgent_ToolTimeout(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	})
	fast := tool.NewFunctionTool("fast", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.WriteArtifact("fast", "ok")
		return "ok", nil
	})

	m := model.NewMockModel("mock").
		CallTools(testutil.Call("s", "slow", nil), testutil.Call("f", "fast", nil)).
		Reply("done")

	a, err := New("timer", m, func(o *Options) {
		o.Tools = []tool.Tool{slow, fast}
		o.ToolTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)

	st, err := a.Run(context.Background(), userState("go"))
	require.NoError(t, err)

	assert.Equal(t, core.Artifacts{"fast": "ok"}, st.Artifacts)
	assert.True(t, st.Messages[2].IsError)
	assert.Contains(t, st.Messages[2].Content, "timed out")
	assert.Equal(t, "ok", st.Messages[3].Content)
}

func TestAgent_BackendFailureIsFatal(t *testing.T) {
	boom := errors.New("503 service unavailable")
	a, err := New("fragile", model.NewMockModel("mock").Fail(boom))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), userState("go"))
	require.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestAgent_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, err := New("cancelled", model.NewMockModel("mock").Reply("never"))
	require.NoError(t, err)

	_, err = a.Run(ctx, userState("go"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAgent_InvokeStreamsEvents(t *testing.T) {
	m := model.NewMockModel("mock").
		CallTools(testutil.Call("c1", builtin.WriteArtifactName, map[string]any{"name": "a", "content": "x"})).
		Reply("ok")

	a, err := New("streamer", m, func(o *Options) {
		o.Middleware = []middleware.Middleware{middleware.NewArtifacts()}
		o.Stream = true
	})
	require.NoError(t, err)

	events, errCh := a.Invoke(context.Background(), userState("go"))

	var types []EventType
	var final *core.State
	for ev := range events {
		assert.Equal(t, "streamer", ev.Agent)
		if ev.Type == EventPartial {
			continue
		}
		types = append(types, ev.Type)
		if ev.Type == EventFinal {
			final = ev.State
		}
	}
	require.NoError(t, <-errCh)

	assert.Equal(t, []EventType{EventModelResponse, EventToolResult, EventModelResponse, EventFinal}, types)
	require.NotNil(t, final)
	assert.Equal(t, "x", final.Artifacts["a"])
}

func TestAgent_InstructionAndMiddlewarePrompt(t *testing.T) {
	m := model.NewMockModel("mock").Reply("ok")

	a, err := New("prompted", m, func(o *Options) {
		o.Instruction = NewInstructionFromText("You have {{len .Artifacts}} artifacts.")
		o.Middleware = []middleware.Middleware{
			middleware.NewTodoList(func(o *middleware.TodoListOptions) { o.SystemPrompt = "TODO" }),
			middleware.NewArtifacts(func(o *middleware.ArtifactsOptions) { o.SystemPrompt = "ART" }),
		}
	})
	require.NoError(t, err)

	st := testutil.NewStateBuilder().User("hi").Artifact("a", "1").Artifact("b", "2").Build()
	_, err = a.Run(context.Background(), st)
	require.NoError(t, err)

	req := m.Requests()[0]
	assert.Equal(t, "You have 2 artifacts.\n\nTODO\n\nART", req.SystemPrompt)
	assert.Equal(t, []string{
		builtin.WriteTodosName,
		builtin.ListArtifactsName,
		builtin.ReadArtifactName,
		builtin.WriteArtifactName,
		builtin.EditArtifactName,
	}, req.ToolNames())
	assert.True(t, a.HasTool(builtin.EditArtifactName))
}

func TestAgent_ConfigurationErrors(t *testing.T) {
	_, err := New("nil-model", nil)
	assert.Error(t, err)

	dup := tool.NewFunctionTool(builtin.WriteTodosName, "", nil, func(*core.ToolContext, map[string]any) (any, error) { return nil, nil })
	_, err = New("dup", model.NewMockModel("m"), func(o *Options) {
		o.Middleware = []middleware.Middleware{middleware.NewTodoList()}
		o.Tools = []tool.Tool{dup}
	})
	assert.ErrorContains(t, err, "duplicate tool")
}

func TestAgent_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	m := model.NewMockModel("mock").
		CallTools(testutil.Call("c1", builtin.ListArtifactsName, nil)).
		Reply("ok")

	a, err := New("traced", m, func(o *Options) {
		o.Middleware = []middleware.Middleware{middleware.NewArtifacts()}
		o.TracerProvider = tp
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), userState("go"))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	assert.Equal(t, map[string]int{
		"agent.invoke":         1,
		"agent.model.generate": 2,
		"agent.tool.execute":   1,
	}, counts)
}

func TestInstruction_Provider(t *testing.T) {
	ins := NewInstructionFromFunc(func(st core.State) (string, error) {
		return fmt.Sprintf("%d todos", len(st.Todos)), nil
	})
	assert.False(t, ins.IsStatic())

	text, err := ins.Resolve(testutil.NewStateBuilder().Todo("a", core.TodoPending).Build())
	require.NoError(t, err)
	assert.Equal(t, "1 todos", text)

	_, err = NewInstructionFromText("{{.Broken").Resolve(core.NewState())
	assert.Error(t, err)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "awaiting_model", PhaseAwaitingModel.String())
	assert.Equal(t, "terminal", PhaseTerminal.String())
}

func TestAgent_AllowedTools(t *testing.T) {
	a, err := New("reader", model.NewMockModel("m"), func(o *Options) {
		o.Middleware = []middleware.Middleware{middleware.NewTodoList(), middleware.NewArtifacts()}
		o.AllowedTools = []string{builtin.ReadArtifactName}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{builtin.ReadArtifactName}, a.ToolNames())

	_, err = New("reader", model.NewMockModel("m"), func(o *Options) {
		o.AllowedTools = []string{"missing"}
	})
	require.Error(t, err)
}
