package subagent

import (
	"fmt"
	"time"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
)

// MiddlewareName is the name of the task middleware.
const MiddlewareName = "task"

type taskArgs struct {
	Description  string `json:"description" description:"A detailed, self-contained description of the task for the subagent."`
	SubagentName string `json:"subagent_name" description:"The subagent type to launch."`
}

// NewTaskTool returns the task tool backed by d. The tool result is the
// subagent's final answer; artifact and extension writes of the child are
// merged into the calling step's update.
func NewTaskTool(d *Dispatcher) (*tool.FunctionTool, error) {
	description, err := util.RenderTemplate(TaskToolDescriptionTemplate, map[string]any{
		"Subagents": d.Registry().Describe(),
	})
	if err != nil {
		return nil, fmt.Errorf("task tool description: %w", err)
	}

	return tool.NewFunctionToolFromStruct(TaskToolName, description, taskArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var in taskArgs
			if err := util.DecodeArgs(args, &in); err != nil {
				return nil, tool.WrapError(TaskToolName, tool.CodeValidation, err)
			}

			res, err := d.Dispatch(tc.Context(), Invocation{
				Description:  in.Description,
				SubagentName: in.SubagentName,
				CallID:       tc.FunctionCallID(),
			}, tc.State())
			if err != nil {
				return nil, err
			}

			tc.MergeUpdate(res.Update)
			return res.Output, nil
		},
	), nil
}

// Options configures the task middleware.
type Options struct {
	SystemPrompt string
	// DispatchTimeout bounds each subagent run; <= 0 disables it.
	DispatchTimeout time.Duration
	// DisableGeneralPurpose drops the built-in general-purpose subagent.
	DisableGeneralPurpose bool
	// GeneralPurposePrompt overrides the general-purpose system prompt.
	GeneralPurposePrompt string
}

// Middleware contributes the task tool and its prompt section.
type Middleware struct {
	middleware.Base
	prompt     string
	tools      []tool.Tool
	dispatcher *Dispatcher
}

// NewMiddleware compiles specs against env and returns the task middleware.
// A general-purpose subagent sharing the parent's tools is added unless
// specs already name one or it is disabled.
func NewMiddleware(env Environment, specs []Spec, optFns ...func(o *Options)) (*Middleware, error) {
	opts := Options{
		SystemPrompt:         DefaultTaskPrompt,
		DispatchTimeout:      DefaultDispatchTimeout,
		GeneralPurposePrompt: DefaultGeneralPurposePrompt,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	all := specs
	if !opts.DisableGeneralPurpose && !hasSpec(specs, GeneralPurposeName) {
		all = append([]Spec{PromptSpec{
			AgentName:        GeneralPurposeName,
			AgentDescription: DefaultGeneralPurposeDescription,
			Prompt:           opts.GeneralPurposePrompt,
		}}, specs...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("task middleware: no subagents configured")
	}

	registry, err := NewRegistry(env, all...)
	if err != nil {
		return nil, err
	}

	d := NewDispatcher(registry, func(o *DispatcherOptions) {
		o.Timeout = opts.DispatchTimeout
		o.Logger = env.Logger
		o.TracerProvider = env.TracerProvider
	})

	taskTool, err := NewTaskTool(d)
	if err != nil {
		return nil, err
	}

	return &Middleware{
		prompt:     opts.SystemPrompt,
		tools:      []tool.Tool{taskTool},
		dispatcher: d,
	}, nil
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return MiddlewareName }

// Tools implements middleware.Middleware.
func (m *Middleware) Tools() []tool.Tool { return m.tools }

// ModifyRequest implements middleware.Middleware.
func (m *Middleware) ModifyRequest(req model.Request, _ core.State) (model.Request, error) {
	return middleware.AppendSystemPrompt(req, m.prompt), nil
}

// Dispatcher exposes the dispatcher behind the task tool.
func (m *Middleware) Dispatcher() *Dispatcher { return m.dispatcher }

func hasSpec(specs []Spec, name string) bool {
	for _, s := range specs {
		if s.Name() == name {
			return true
		}
	}
	return false
}
