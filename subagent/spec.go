package subagent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/deepmesh/agent"
	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
)

const (
	// TaskToolName is the name of the delegation tool.
	TaskToolName = "task"
	// GeneralPurposeName names the default subagent.
	GeneralPurposeName = "general-purpose"
)

// Runnable is an executable control loop. *agent.Agent implements it.
type Runnable interface {
	Run(ctx context.Context, st core.State) (core.State, error)
}

// Spec produces an executable subagent. Implementations are PromptSpec and
// PrebuiltSpec; callers never branch on the shape.
type Spec interface {
	Name() string
	Description() string
	Compile(env Environment) (Runnable, error)
}

// Environment carries what the parent shares with its subagents.
type Environment struct {
	// Model is the default backend.
	Model model.Model
	// Models resolves PromptSpec.ModelName overrides.
	Models map[string]model.Model
	// Middleware builds a fresh default middleware stack per subagent. The
	// task middleware is always removed from it.
	Middleware func() []middleware.Middleware
	// Tools are the host tools a subagent may select from.
	Tools []tool.Tool

	// MaxIterations overrides the agent default when non-zero.
	MaxIterations    int
	MaxParallelTools int
	ToolTimeout      time.Duration

	Logger         logging.Logger
	TracerProvider trace.TracerProvider
}

func (env Environment) defaultMiddleware() []middleware.Middleware {
	if env.Middleware == nil {
		return nil
	}
	return middleware.Without(env.Middleware(), MiddlewareName)
}

// PromptSpec describes a subagent by system prompt.
type PromptSpec struct {
	AgentName        string
	AgentDescription string
	Prompt           string
	// Tools selects the child's tools by name, built-ins included; nil
	// offers every tool of the default stack plus the host tools.
	Tools []string
	// Model overrides the environment model.
	Model model.Model
	// ModelName overrides the environment model via Environment.Models.
	ModelName string
	// Middleware is appended after the default middleware.
	Middleware []middleware.Middleware
}

// Name implements Spec.
func (s PromptSpec) Name() string { return s.AgentName }

// Description implements Spec.
func (s PromptSpec) Description() string { return s.AgentDescription }

// Compile builds the child agent. It fails with core.ErrRecursiveDelegation
// when the task tool or task middleware would reach the child.
func (s PromptSpec) Compile(env Environment) (Runnable, error) {
	for _, name := range s.Tools {
		if name == TaskToolName {
			return nil, fmt.Errorf("subagent %q: %w: tool %q requested", s.AgentName, core.ErrRecursiveDelegation, TaskToolName)
		}
	}
	for _, mw := range s.Middleware {
		if mw.Name() == MiddlewareName {
			return nil, fmt.Errorf("subagent %q: %w: middleware %q requested", s.AgentName, core.ErrRecursiveDelegation, MiddlewareName)
		}
	}

	llm, err := s.resolveModel(env)
	if err != nil {
		return nil, err
	}

	mws := append(env.defaultMiddleware(), s.Middleware...)

	child, err := agent.New(s.AgentName, llm, func(o *agent.Options) {
		o.Instruction = agent.NewInstructionFromText(s.Prompt)
		o.Middleware = mws
		o.Tools = hostTools(env.Tools)
		o.AllowedTools = s.Tools
		if env.MaxIterations != 0 {
			o.MaxIterations = env.MaxIterations
		}
		o.MaxParallelTools = env.MaxParallelTools
		o.ToolTimeout = env.ToolTimeout
		o.Logger = env.Logger
		o.TracerProvider = env.TracerProvider
	})
	if err != nil {
		return nil, fmt.Errorf("subagent %q: %w", s.AgentName, err)
	}

	if child.HasTool(TaskToolName) {
		return nil, fmt.Errorf("subagent %q: %w", s.AgentName, core.ErrRecursiveDelegation)
	}

	return child, nil
}

func (s PromptSpec) resolveModel(env Environment) (model.Model, error) {
	switch {
	case s.Model != nil:
		return s.Model, nil
	case s.ModelName != "":
		m, ok := env.Models[s.ModelName]
		if !ok {
			return nil, fmt.Errorf("subagent %q: unknown model %q", s.AgentName, s.ModelName)
		}
		return m, nil
	case env.Model != nil:
		return env.Model, nil
	default:
		return nil, fmt.Errorf("subagent %q: no model configured", s.AgentName)
	}
}

func hostTools(available []tool.Tool) []tool.Tool {
	out := make([]tool.Tool, 0, len(available))
	for _, t := range available {
		if t.Name() != TaskToolName {
			out = append(out, t)
		}
	}
	return out
}

// PrebuiltSpec wraps an already executable control loop.
type PrebuiltSpec struct {
	AgentName        string
	AgentDescription string
	Runnable         Runnable
}

// Name implements Spec.
func (s PrebuiltSpec) Name() string { return s.AgentName }

// Description implements Spec.
func (s PrebuiltSpec) Description() string { return s.AgentDescription }

// Compile returns the wrapped Runnable, rejecting one that exposes the task tool.
func (s PrebuiltSpec) Compile(Environment) (Runnable, error) {
	if s.Runnable == nil {
		return nil, fmt.Errorf("subagent %q: runnable is required", s.AgentName)
	}
	if h, ok := s.Runnable.(interface{ HasTool(string) bool }); ok && h.HasTool(TaskToolName) {
		return nil, fmt.Errorf("subagent %q: %w", s.AgentName, core.ErrRecursiveDelegation)
	}
	return s.Runnable, nil
}
