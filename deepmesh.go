// Package deepmesh assembles a deep agent: a control loop with planning
// (write_todos), a shared artifact store, optional long-term memory and
// context-quarantined subagents reachable through the task tool.
//
// Most applications:
//  1. Create a DeepMesh via New (or NewFromConfig)
//  2. Invoke it asynchronously (Invoke) or synchronously (InvokeSync)
//
// Every invocation owns its state; nothing is shared between invocations.
package deepmesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/deepmesh/agent"
	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/subagent"
	"github.com/hupe1980/deepmesh/tool"
	"github.com/hupe1980/deepmesh/tool/builtin"
)

// DefaultName names the top-level agent.
const DefaultName = "deep-agent"

// Options configures a DeepMesh instance.
type Options struct {
	Name string
	// SystemPrompt is the host instruction; it may use {{ }} templates over
	// the state. Middleware prompt sections are appended after it.
	SystemPrompt string

	// Tools are host tools offered to the agent and, by default, its subagents.
	Tools []tool.Tool
	// BuiltinTools restricts the built-in tools by name; nil registers all.
	BuiltinTools []string
	// Middleware is appended after the default stack of the top-level agent.
	// Subagents do not inherit it.
	Middleware []middleware.Middleware

	// Subagents are offered through the task tool.
	Subagents []subagent.Spec
	// Models resolves subagent model overrides by name.
	Models map[string]model.Model
	// DisableGeneralPurpose drops the default general-purpose subagent.
	DisableGeneralPurpose bool
	// DisableTask omits the task tool entirely.
	DisableTask bool

	MaxIterations    int
	MaxParallelTools int
	ToolTimeout      time.Duration
	DispatchTimeout  time.Duration

	// MemoryPath enables the agent memory middleware.
	MemoryPath string
	// EvictTokenLimit moves larger tool results into artifacts; <= 0 disables eviction.
	EvictTokenLimit int
	TokenCounter    middleware.TokenCounter

	Stream bool

	// MaxConcurrentInvocations bounds simultaneous invocations; 0 means unlimited.
	MaxConcurrentInvocations int

	Logger         logging.Logger
	TracerProvider trace.TracerProvider
}

// DeepMesh is the high-level façade over the control loop and its default
// middleware stack.
type DeepMesh struct {
	opts    Options
	agent   *agent.Agent
	task    *subagent.Middleware
	sem     *semaphore.Weighted
	logger  logging.Logger
	closers []func() error

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a deep agent on top of llm.
func New(llm model.Model, optFns ...func(o *Options)) (*DeepMesh, error) {
	opts := Options{
		Name:            DefaultName,
		MaxIterations:   agent.DefaultMaxIterations,
		DispatchTimeout: subagent.DefaultDispatchTimeout,
		EvictTokenLimit: middleware.DefaultEvictTokenLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if llm == nil {
		return nil, errors.New("deepmesh: model is required")
	}

	builtins, err := builtin.Select(opts.BuiltinTools)
	if err != nil {
		return nil, fmt.Errorf("deepmesh: %w", err)
	}

	stack := defaultStack(opts, builtins)
	mws := append(stack(), opts.Middleware...)

	var task *subagent.Middleware
	if !opts.DisableTask {
		task, err = subagent.NewMiddleware(subagent.Environment{
			Model:            llm,
			Models:           opts.Models,
			Middleware:       stack,
			Tools:            opts.Tools,
			MaxIterations:    opts.MaxIterations,
			MaxParallelTools: opts.MaxParallelTools,
			ToolTimeout:      opts.ToolTimeout,
			Logger:           opts.Logger,
			TracerProvider:   opts.TracerProvider,
		}, opts.Subagents, func(o *subagent.Options) {
			o.DispatchTimeout = opts.DispatchTimeout
			o.DisableGeneralPurpose = opts.DisableGeneralPurpose
		})
		if err != nil {
			return nil, fmt.Errorf("deepmesh: %w", err)
		}
		mws = append(mws, task)
		if opts.ToolTimeout > 0 && opts.DispatchTimeout > 0 && opts.ToolTimeout <= opts.DispatchTimeout {
			logging.OrNoOp(opts.Logger).Warn("deepmesh.config.tool_timeout_below_dispatch",
				"tool_timeout", opts.ToolTimeout.String(), "dispatch_timeout", opts.DispatchTimeout.String())
		}
	}

	a, err := agent.New(opts.Name, llm, func(o *agent.Options) {
		o.Instruction = agent.NewInstructionFromText(opts.SystemPrompt)
		o.Middleware = mws
		o.Tools = opts.Tools
		o.MaxIterations = opts.MaxIterations
		o.MaxParallelTools = opts.MaxParallelTools
		o.ToolTimeout = opts.ToolTimeout
		o.Stream = opts.Stream
		o.Logger = opts.Logger
		o.TracerProvider = opts.TracerProvider
	})
	if err != nil {
		return nil, fmt.Errorf("deepmesh: %w", err)
	}

	var sem *semaphore.Weighted
	if opts.MaxConcurrentInvocations > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConcurrentInvocations))
	}

	return &DeepMesh{
		opts:   opts,
		agent:  a,
		task:   task,
		sem:    sem,
		logger: logging.OrNoOp(opts.Logger),
		active: map[string]context.CancelFunc{},
	}, nil
}

// defaultStack returns a factory for the default middleware, honoring the
// built-in tool selection. Each call returns fresh instances.
func defaultStack(opts Options, builtins []tool.Tool) func() []middleware.Middleware {
	var todos bool
	artifactTools := []string{}
	for _, t := range builtins {
		switch {
		case t.Name() == builtin.WriteTodosName:
			todos = true
		case builtin.IsArtifactTool(t.Name()):
			artifactTools = append(artifactTools, t.Name())
		}
	}

	return func() []middleware.Middleware {
		var mws []middleware.Middleware
		if todos {
			mws = append(mws, middleware.NewTodoList())
		}
		if len(artifactTools) > 0 {
			mws = append(mws, middleware.NewArtifacts(func(o *middleware.ArtifactsOptions) {
				o.EvictTokenLimit = opts.EvictTokenLimit
				o.TokenCounter = opts.TokenCounter
				o.Tools = artifactTools
			}))
		}
		if opts.MemoryPath != "" {
			mws = append(mws, middleware.NewAgentMemory(func(o *middleware.AgentMemoryOptions) {
				o.Path = opts.MemoryPath
			}))
		}
		return mws
	}
}

// Agent returns the top-level control loop.
func (m *DeepMesh) Agent() *agent.Agent { return m.agent }

// Subagents returns the names offered through the task tool.
func (m *DeepMesh) Subagents() []string {
	if m.task == nil {
		return nil
	}
	return m.task.Dispatcher().Registry().Names()
}

// Invoke starts an asynchronous invocation and returns its id together with
// the event and error channels. Both channels are closed when the
// invocation ends; the error channel yields at most one error.
func (m *DeepMesh) Invoke(ctx context.Context, st core.State) (string, <-chan agent.Event, <-chan error, error) {
	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return "", nil, nil, err
		}
	}

	invocationID := uuid.NewString()
	invocationCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.active[invocationID] = cancel
	m.mu.Unlock()

	m.logger.Debug("deepmesh.invoke.start", "invocation_id", invocationID, "agent", m.agent.Name())

	events, errs := m.agent.Invoke(invocationCtx, st)

	out := make(chan agent.Event, 16)
	errOut := make(chan error, 1)

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.active, invocationID)
			m.mu.Unlock()
			cancel()

			if m.sem != nil {
				m.sem.Release(1)
			}

			close(out)
			close(errOut)
		}()

		for ev := range events {
			select {
			case out <- ev:
			case <-invocationCtx.Done():
			}
		}
		if err := <-errs; err != nil {
			m.logger.Warn("deepmesh.invoke.failed", "invocation_id", invocationID, "error", err.Error())
			errOut <- err
			return
		}
		m.logger.Debug("deepmesh.invoke.completed", "invocation_id", invocationID)
	}()

	return invocationID, out, errOut, nil
}

// InvokeSync runs an invocation to completion and returns the final state
// together with every event emitted on the way.
func (m *DeepMesh) InvokeSync(ctx context.Context, st core.State) (core.State, []agent.Event, error) {
	_, eventsCh, errCh, err := m.Invoke(ctx, st)
	if err != nil {
		return core.State{}, nil, err
	}

	var (
		events []agent.Event
		final  *core.State
	)
	for ev := range eventsCh {
		events = append(events, ev)
		if ev.Type == agent.EventFinal {
			final = ev.State
		}
	}

	if err := <-errCh; err != nil {
		return core.State{}, events, err
	}
	if err := ctx.Err(); err != nil {
		return core.State{}, events, err
	}
	if final == nil {
		return core.State{}, events, errors.New("deepmesh: invocation ended without final state")
	}
	return *final, events, nil
}

// Ask runs a single user prompt and returns the final assistant text.
func (m *DeepMesh) Ask(ctx context.Context, prompt string) (string, error) {
	st, _, err := m.InvokeSync(ctx, core.NewState(core.NewUserMessage(prompt)))
	if err != nil {
		return "", err
	}
	last, _ := st.LastMessage()
	return last.Content, nil
}

// StopInvocation cancels a running invocation by id.
func (m *DeepMesh) StopInvocation(invocationID string) error {
	m.mu.Lock()
	cancel, ok := m.active[invocationID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("invocation %s not found", invocationID)
	}
	cancel()
	return nil
}

// Close releases resources acquired by NewFromConfig, such as MCP server
// processes.
func (m *DeepMesh) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}
