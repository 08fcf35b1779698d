package subagent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/deepmesh/agent"
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

func defaultStack() []middleware.Middleware {
	return []middleware.Middleware{middleware.NewTodoList(), middleware.NewArtifacts()}
}

// echoWriter writes its task description to the artifact "shared" after a
// random delay, then reports back.
func echoWriter(maxDelay time.Duration) *model.MockModel {
	return model.NewMockModel("child").WithFallback(func(req model.Request) (core.Message, error) {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == core.RoleUser {
			if maxDelay > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(maxDelay))))
			}
			return core.NewAssistantMessage("", testutil.Call(core.NewID(), builtin.WriteArtifactName, map[string]any{
				"name":    "shared",
				"content": last.Content,
			})), nil
		}
		return core.NewAssistantMessage("report: " + req.Messages[0].Content), nil
	})
}

func taskCall(id, subagent, description string) core.ToolCall {
	return testutil.Call(id, TaskToolName, map[string]any{
		"description":   description,
		"subagent_name": subagent,
	})
}

func newParent(t *testing.T, m model.Model, task *Middleware) *agent.Agent {
	t.Helper()
	a, err := agent.New("parent", m, func(o *agent.Options) {
		o.Middleware = append(defaultStack(), task)
	})
	require.NoError(t, err)
	return a
}

type blockingRunnable struct{}

func (blockingRunnable) Run(ctx context.Context, st core.State) (core.State, error) {
	<-ctx.Done()
	return st, ctx.Err()
}

type failingRunnable struct{ err error }

func (r failingRunnable) Run(context.Context, core.State) (core.State, error) { return core.State{}, r.err }

func TestDispatch_ContextQuarantine(t *testing.T) {
	child := model.NewMockModel("child").
		CallTools(testutil.Call("t1", builtin.WriteTodosName, map[string]any{
			"todos": []any{map[string]any{"content": "child step", "status": "in_progress"}},
		})).
		Reply("the answer is 42")

	task, err := NewMiddleware(Environment{Middleware: defaultStack}, []Spec{
		PromptSpec{AgentName: "researcher", AgentDescription: "finds answers", Prompt: "research", Model: child},
	}, func(o *Options) { o.DisableGeneralPurpose = true })
	require.NoError(t, err)

	parentModel := model.NewMockModel("parent").
		CallTools(taskCall("c1", "researcher", "what is the answer?")).
		Reply("done")

	parent := newParent(t, parentModel, task)
	in := testutil.NewStateBuilder().User("go").Todo("parent step", core.TodoPending).Build()

	st, err := parent.Run(context.Background(), in)
	require.NoError(t, err)

	// user, assistant(task), tool, assistant
	require.Len(t, st.Messages, 4)
	result := st.Messages[2]
	assert.Equal(t, core.RoleTool, result.Role)
	assert.Equal(t, "c1", result.ToolCallID)
	assert.Equal(t, "the answer is 42", result.Content)
	assert.False(t, result.IsError)

	assert.Equal(t, []core.Todo{{Content: "parent step", Status: core.TodoPending}}, st.Todos)

	// The child saw only the description.
	reqs := child.Requests()
	require.NotEmpty(t, reqs)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "what is the answer?", reqs[0].Messages[0].Content)
	assert.NotContains(t, reqs[0].ToolNames(), TaskToolName)
}

func TestDispatch_ConcurrentMergeInCallOrder(t *testing.T) {
	for run := 0; run < 5; run++ {
		task, err := NewMiddleware(Environment{Middleware: defaultStack}, []Spec{
			PromptSpec{AgentName: "writer", AgentDescription: "writes", Prompt: "write", Model: echoWriter(5 * time.Millisecond)},
		}, func(o *Options) { o.DisableGeneralPurpose = true })
		require.NoError(t, err)

		parentModel := model.NewMockModel("parent").
			CallTools(
				taskCall("c1", "writer", "a"),
				taskCall("c2", "writer", "b"),
				taskCall("c3", "writer", "c"),
			).
			Reply("done")

		st, err := newParent(t, parentModel, task).Run(context.Background(), testutil.NewStateBuilder().User("go").Build())
		require.NoError(t, err)

		assert.Equal(t, "c", st.Artifacts["shared"])

		var results []string
		for _, msg := range st.Messages {
			if msg.Role == core.RoleTool {
				results = append(results, msg.ToolCallID+"="+msg.Content)
			}
		}
		assert.Equal(t, []string{"c1=report: a", "c2=report: b", "c3=report: c"}, results)
	}
}

func TestDispatch_ArtifactDiffMergeBack(t *testing.T) {
	reg, err := NewRegistry(Environment{Middleware: defaultStack},
		PromptSpec{AgentName: "writer", AgentDescription: "writes", Model: echoWriter(0)},
	)
	require.NoError(t, err)
	d := NewDispatcher(reg)

	parent := testutil.NewStateBuilder().User("go").Artifact("notes", "keep").Extra("mode", "fast").Build()

	res, err := d.Dispatch(context.Background(), Invocation{Description: "hello", SubagentName: "writer", CallID: "c1"}, parent)
	require.NoError(t, err)

	assert.Equal(t, "report: hello", res.Output)
	assert.Equal(t, core.Artifacts{"shared": "hello"}, res.Update.Artifacts)
	assert.Nil(t, res.Update.Todos)
	assert.Empty(t, res.Update.Messages)
	assert.Empty(t, res.Update.Extra)
	assert.Empty(t, res.Update.ReplaceExtra)
}

// notesMiddleware declares an append-reduced "notes" field and an add_note
// tool writing to it.
type notesMiddleware struct{ middleware.Base }

func (notesMiddleware) Name() string { return "notes" }

func (notesMiddleware) StateFields() map[string]core.Field {
	return map[string]core.Field{"notes": {
		Default: func() any { return []string{} },
		Reduce: func(cur, upd any) any {
			out := append([]string{}, cur.([]string)...)
			return append(out, upd.([]string)...)
		},
	}}
}

func (notesMiddleware) Tools() []tool.Tool {
	return []tool.Tool{tool.NewFunctionTool("add_note", "Appends a note.", map[string]any{
		"type":       "object",
		"properties": map[string]any{"note": map[string]any{"type": "string"}},
		"required":   []string{"note"},
	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
		tc.SetState("notes", []string{args["note"].(string)})
		return "noted", nil
	})}
}

func TestDispatch_ReducedExtensionFieldMergesOnce(t *testing.T) {
	stack := func() []middleware.Middleware {
		return append(defaultStack(), notesMiddleware{})
	}
	child := model.NewMockModel("child").
		CallTools(testutil.Call("n1", "add_note", map[string]any{"note": "child-note"})).
		Reply("noted it")

	task, err := NewMiddleware(Environment{Middleware: stack}, []Spec{
		PromptSpec{AgentName: "scribe", AgentDescription: "takes notes", Model: child},
	}, func(o *Options) { o.DisableGeneralPurpose = true })
	require.NoError(t, err)

	parentModel := model.NewMockModel("parent").
		CallTools(taskCall("c1", "scribe", "write a note")).
		Reply("done")
	parent, err := agent.New("parent", parentModel, func(o *agent.Options) {
		o.Middleware = append(stack(), task)
	})
	require.NoError(t, err)

	in := testutil.NewStateBuilder().User("go").Extra("notes", []string{"parent-note"}).Build()
	st, err := parent.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"parent-note", "child-note"}, st.Extra["notes"])
}

func TestDispatch_SubagentNotFound(t *testing.T) {
	reg, err := NewRegistry(Environment{}, PrebuiltSpec{AgentName: "stuck", AgentDescription: "never returns", Runnable: blockingRunnable{}})
	require.NoError(t, err)
	d := NewDispatcher(reg)

	_, err = d.Dispatch(context.Background(), Invocation{Description: "x", SubagentName: "ghost"}, core.NewState())
	require.ErrorIs(t, err, core.ErrSubagentNotFound)

	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeSubagentNotFound, toolErr.Code)
	assert.Contains(t, toolErr.Message, "ghost")
	assert.Contains(t, toolErr.Message, "stuck")
}

func TestDispatch_Timeout(t *testing.T) {
	reg, err := NewRegistry(Environment{}, PrebuiltSpec{AgentName: "stuck", AgentDescription: "never returns", Runnable: blockingRunnable{}})
	require.NoError(t, err)
	d := NewDispatcher(reg, func(o *DispatcherOptions) { o.Timeout = 20 * time.Millisecond })

	_, err = d.Dispatch(context.Background(), Invocation{Description: "x", SubagentName: "stuck"}, core.NewState())
	require.ErrorIs(t, err, core.ErrDispatchTimeout)
	assert.True(t, IsTimeout(err))
}

func TestDispatch_TimeoutBecomesToolResult(t *testing.T) {
	task, err := NewMiddleware(Environment{}, []Spec{
		PrebuiltSpec{AgentName: "stuck", AgentDescription: "never returns", Runnable: blockingRunnable{}},
	}, func(o *Options) {
		o.DisableGeneralPurpose = true
		o.DispatchTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)

	parentModel := model.NewMockModel("parent").CallTools(taskCall("c1", "stuck", "x")).Reply("gave up")
	st, err := newParent(t, parentModel, task).Run(context.Background(), testutil.NewStateBuilder().User("go").Build())
	require.NoError(t, err)

	result := st.Messages[2]
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(result.Content, tool.ErrorPrefix))
	assert.Contains(t, result.Content, "timed out")
	assert.Equal(t, "gave up", st.Messages[3].Content)
}

func TestDispatch_ChildFailureIsRecoverable(t *testing.T) {
	boom := fmt.Errorf("boom")
	reg, err := NewRegistry(Environment{}, PrebuiltSpec{AgentName: "broken", AgentDescription: "fails", Runnable: failingRunnable{err: boom}})
	require.NoError(t, err)

	_, err = NewDispatcher(reg).Dispatch(context.Background(), Invocation{Description: "x", SubagentName: "broken"}, core.NewState())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, core.ErrToolExecution)
}

func TestDispatch_ParentCancellation(t *testing.T) {
	reg, err := NewRegistry(Environment{}, PrebuiltSpec{AgentName: "stuck", AgentDescription: "never returns", Runnable: blockingRunnable{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = NewDispatcher(reg).Dispatch(ctx, Invocation{Description: "x", SubagentName: "stuck"}, core.NewState())
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatch_CallerDeadlineIsDispatchTimeout(t *testing.T) {
	reg, err := NewRegistry(Environment{}, PrebuiltSpec{AgentName: "stuck", AgentDescription: "never returns", Runnable: blockingRunnable{}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = NewDispatcher(reg, func(o *DispatcherOptions) { o.Timeout = time.Minute }).
		Dispatch(ctx, Invocation{Description: "x", SubagentName: "stuck"}, core.NewState())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecursionGuard(t *testing.T) {
	env := Environment{Model: model.NewMockModel("m"), Middleware: defaultStack}

	t.Run("task tool requested", func(t *testing.T) {
		_, err := NewRegistry(env, PromptSpec{AgentName: "r", Tools: []string{TaskToolName}})
		require.ErrorIs(t, err, core.ErrRecursiveDelegation)
	})

	t.Run("task middleware requested", func(t *testing.T) {
		inner, err := NewMiddleware(env, nil)
		require.NoError(t, err)

		_, err = NewRegistry(env, PromptSpec{AgentName: "r", Middleware: []middleware.Middleware{inner}})
		require.ErrorIs(t, err, core.ErrRecursiveDelegation)
	})

	t.Run("prebuilt agent with task tool", func(t *testing.T) {
		task, err := NewMiddleware(env, nil)
		require.NoError(t, err)
		withTask, err := agent.New("nested", model.NewMockModel("m"), func(o *agent.Options) {
			o.Middleware = []middleware.Middleware{task}
		})
		require.NoError(t, err)

		_, err = NewRegistry(env, PrebuiltSpec{AgentName: "r", Runnable: withTask})
		require.ErrorIs(t, err, core.ErrRecursiveDelegation)
	})

	t.Run("default stack carrying task middleware", func(t *testing.T) {
		task, err := NewMiddleware(env, nil)
		require.NoError(t, err)

		withTask := env
		withTask.Middleware = func() []middleware.Middleware {
			return append(defaultStack(), task)
		}

		reg, err := NewRegistry(withTask, PromptSpec{AgentName: "r"})
		require.NoError(t, err)

		r, ok := reg.Get("r")
		require.True(t, ok)
		child, ok := r.(*agent.Agent)
		require.True(t, ok)
		assert.False(t, child.HasTool(TaskToolName))
		assert.True(t, child.HasTool(builtin.WriteTodosName))
	})
}

func TestNewMiddleware_GeneralPurpose(t *testing.T) {
	env := Environment{Model: model.NewMockModel("m"), Middleware: defaultStack}

	task, err := NewMiddleware(env, []Spec{PromptSpec{AgentName: "critic", AgentDescription: "reviews"}})
	require.NoError(t, err)
	assert.Equal(t, []string{GeneralPurposeName, "critic"}, task.Dispatcher().Registry().Names())

	require.Len(t, task.Tools(), 1)
	desc := task.Tools()[0].Description()
	assert.Contains(t, desc, "- general-purpose: ")
	assert.Contains(t, desc, "- critic: reviews")

	own, err := NewMiddleware(env, []Spec{PromptSpec{AgentName: GeneralPurposeName, AgentDescription: "custom"}})
	require.NoError(t, err)
	assert.Equal(t, []string{GeneralPurposeName}, own.Dispatcher().Registry().Names())

	_, err = NewMiddleware(env, nil, func(o *Options) { o.DisableGeneralPurpose = true })
	require.Error(t, err)
}

func TestRegistry_Errors(t *testing.T) {
	env := Environment{Model: model.NewMockModel("m")}

	_, err := NewRegistry(env, PromptSpec{AgentName: "a"}, PromptSpec{AgentName: "a"})
	require.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry(env, PromptSpec{})
	require.ErrorContains(t, err, "empty")

	_, err = NewRegistry(env, PromptSpec{AgentName: "a", ModelName: "missing"})
	require.ErrorContains(t, err, "unknown model")

	_, err = NewRegistry(Environment{}, PromptSpec{AgentName: "a"})
	require.ErrorContains(t, err, "no model")

	_, err = NewRegistry(env, PromptSpec{AgentName: "a", Tools: []string{"nope"}})
	require.Error(t, err)
}

func TestPromptSpec_ToolSelection(t *testing.T) {
	env := Environment{
		Model: model.NewMockModel("m"),
		Tools: []tool.Tool{testutil.NewSleepyWriter("slow_write", 0), testutil.NewSleepyWriter("other", 0)},
	}

	r, err := PromptSpec{AgentName: "a", Tools: []string{"other"}}.Compile(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, r.(*agent.Agent).ToolNames())

	r, err = PromptSpec{AgentName: "b"}.Compile(env)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"slow_write", "other"}, r.(*agent.Agent).ToolNames())
}
