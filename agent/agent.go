package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/model"
)

const tracerName = "github.com/hupe1980/deepmesh/agent"

// Agent runs the control loop for one configured model, middleware
// pipeline and tool set.
//
// Responsibilities:
//   - Seeds state through BeforeAgent hooks, then alternates model calls and
//     tool execution until the model answers without tool calls
//   - Lets every middleware rewrite the outgoing request before each call
//   - Executes one step's tool calls concurrently and merges their updates
//     back in call order
//   - Enforces MaxIterations and the per-call ToolTimeout
//
// Concurrency:
//
//	An Agent is immutable after New and safe for concurrent invocations; each
//	invocation owns its state. Tool calls of one step run in parallel, bounded
//	by MaxParallelTools, and only see the state as of the step's start.
//
// Error Semantics:
//
//	Tool failures become error tool results the model can react to. Model
//	failures, reducer conflicts, ErrMaxIterations and context cancellation
//	end the run and are returned to the caller.
//
// Example:
//
//	a, err := agent.New("assistant", llm, func(o *agent.Options) {
//	  o.Middleware = []middleware.Middleware{middleware.NewTodoList()}
//	})
//	st, err := a.Run(ctx, core.NewState(core.NewUserMessage("plan my week")))
type Agent struct {
	name        string
	llm         model.Model
	instruction Instruction
	pipeline    *middleware.Pipeline
	opts        Options
	logger      logging.Logger
	tracer      trace.Tracer
}

// New creates an agent. Middleware and tools are composed eagerly, so
// duplicate names and reserved state fields fail here rather than mid-run.
func New(name string, llm model.Model, optFns ...func(o *Options)) (*Agent, error) {
	if llm == nil {
		return nil, fmt.Errorf("agent %q: model is required", name)
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	pipeline, err := middleware.Compose(opts.Middleware, opts.Tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}
	if opts.AllowedTools != nil {
		if pipeline, err = pipeline.Restrict(opts.AllowedTools); err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Agent{
		name:        name,
		llm:         llm,
		instruction: opts.Instruction,
		pipeline:    pipeline,
		opts:        opts,
		logger:      logging.OrNoOp(opts.Logger),
		tracer:      tp.Tracer(tracerName),
	}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Model returns the model backend.
func (a *Agent) Model() model.Model { return a.llm }

// Pipeline returns the composed middleware pipeline.
func (a *Agent) Pipeline() *middleware.Pipeline { return a.pipeline }

// HasTool reports whether the loop can dispatch a tool named name.
func (a *Agent) HasTool(name string) bool { return a.pipeline.Registry().Has(name) }

// ToolNames returns the names of all tools offered to the model.
func (a *Agent) ToolNames() []string { return a.pipeline.Registry().Names() }

// Invoke starts an invocation and streams its events. The error channel
// receives at most one error. Both channels are closed when the invocation
// ends; callers must drain the event channel.
func (a *Agent) Invoke(ctx context.Context, st core.State) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		emit := func(ev Event) error {
			ev.Agent = a.name
			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- ev:
				return nil
			}
		}

		if _, err := a.run(ctx, st, emit); err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

// Run invokes the agent and blocks until it terminates, returning the final state.
func (a *Agent) Run(ctx context.Context, st core.State) (core.State, error) {
	events, errCh := a.Invoke(ctx, st)

	var final *core.State
	for ev := range events {
		if ev.Type == EventFinal {
			final = ev.State
		}
	}

	if err := <-errCh; err != nil {
		return core.State{}, err
	}
	if final == nil {
		return core.State{}, errors.New("agent: invocation ended without final state")
	}
	return *final, nil
}

func (a *Agent) run(ctx context.Context, st core.State, emit func(Event) error) (_ core.State, err error) {
	ctx, span := a.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("agent.model", model.Describe(a.llm)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	schema := a.pipeline.Schema()
	st = schema.Init(st)

	if st, err = a.pipeline.BeforeAgent(ctx, st); err != nil {
		return st, err
	}

	limiter := core.NewIterationLimiter(a.opts.MaxIterations)
	phase := PhaseAwaitingModel

	var last core.Message

	for {
		switch phase {
		case PhaseAwaitingModel:
			if err := ctx.Err(); err != nil {
				return st, err
			}
			if err := limiter.Increment(); err != nil {
				a.logger.Warn("agent.iteration_limit", "agent", a.name, "limit", a.opts.MaxIterations)
				return st, err
			}

			resp, err := a.callModel(ctx, st, limiter.Count(), emit)
			if err != nil {
				return st, err
			}

			last = resp.Message
			st = schema.Apply(st, core.Update{Messages: []core.Message{last}})

			if err := emit(Event{Type: EventModelResponse, Iteration: limiter.Count(), Message: last}); err != nil {
				return st, err
			}
			phase = PhaseModelReturned

		case PhaseModelReturned:
			if last.HasToolCalls() {
				phase = PhaseToolsPending
			} else {
				phase = PhaseTerminal
			}

		case PhaseToolsPending:
			if st, err = a.executeTools(ctx, st, last.ToolCalls, limiter.Count(), emit); err != nil {
				return st, err
			}
			phase = PhaseAwaitingModel

		case PhaseTerminal:
			span.SetAttributes(attribute.Int("agent.iterations", limiter.Count()))
			final := st.Clone()
			if err := emit(Event{Type: EventFinal, Iteration: limiter.Count(), Message: last, State: &final}); err != nil {
				return st, err
			}
			return st, nil
		}
	}
}

// callModel is the loop's only suspension point on the backend.
func (a *Agent) callModel(ctx context.Context, st core.State, iteration int, emit func(Event) error) (model.Response, error) {
	instruction, err := a.instruction.Resolve(st)
	if err != nil {
		return model.Response{}, fmt.Errorf("resolve instruction: %w", err)
	}

	req, err := a.pipeline.BuildRequest(instruction, st)
	if err != nil {
		return model.Response{}, err
	}
	req.Stream = a.opts.Stream

	ctx, span := a.tracer.Start(ctx, "agent.model.generate", trace.WithAttributes(
		attribute.Int("agent.iteration", iteration),
		attribute.Int("request.messages", len(req.Messages)),
		attribute.Int("request.tools", len(req.Tools)),
	))
	defer span.End()

	start := time.Now()
	resp, err := a.collect(ctx, req, iteration, emit)
	logging.LogModelCall(a.logger, a.name, model.Describe(a.llm), iteration, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Response{}, ctxErr
		}
		return model.Response{}, fmt.Errorf("%w: %w", core.ErrModelUnavailable, err)
	}

	span.SetAttributes(attribute.Int("response.tool_calls", len(resp.Message.ToolCalls)))
	return resp, nil
}

func (a *Agent) collect(ctx context.Context, req model.Request, iteration int, emit func(Event) error) (model.Response, error) {
	if !req.Stream {
		return model.Collect(ctx, a.llm, req)
	}

	respCh, errCh := a.llm.Generate(ctx, req)

	var (
		final    model.Response
		hasFinal bool
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				if err := emit(Event{Type: EventPartial, Iteration: iteration, Message: r.Message}); err != nil {
					return model.Response{}, err
				}
				continue
			}
			final, hasFinal = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, err
			}
		}
	}

	if !hasFinal {
		return model.Response{}, model.ErrNoResponse
	}
	final.Message.Role = core.RoleAssistant
	return final, nil
}
