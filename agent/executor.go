package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/tool"
)

// callResult is the outcome of one tool call: its result message and the
// state update it recorded. Failed calls carry no update.
type callResult struct {
	message core.Message
	update  core.Update
	err     error
}

// executeTools runs every call of one model turn, concurrently up to
// MaxParallelTools, then applies the results strictly in call order. The
// merged state is therefore independent of completion order.
func (a *Agent) executeTools(ctx context.Context, st core.State, calls []core.ToolCall, iteration int, emit func(Event) error) (core.State, error) {
	n := len(calls)
	results := make([]callResult, n)

	maxPar := a.opts.MaxParallelTools
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()

	if n == 1 {
		results[0] = a.executeCall(ctx, st, calls[0])
	} else {
		g := new(errgroup.Group)
		g.SetLimit(maxPar)

		for i := range calls {
			idx, call := i, calls[i]
			g.Go(func() error {
				results[idx] = a.executeCall(ctx, st, call)
				return nil
			})
		}

		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return st, err
	}

	schema := a.pipeline.Schema()
	for _, r := range results {
		upd := r.update
		upd.Messages = []core.Message{r.message}
		st = schema.Apply(st, upd)

		if err := emit(Event{Type: EventToolResult, Iteration: iteration, Message: r.message}); err != nil {
			return st, err
		}
	}

	a.logger.Debug(
		"agent.tools.batch.complete",
		"agent", a.name,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return st, nil
}

// executeCall runs one tool call against the step's state snapshot. It
// never panics and never returns a Go error: failures become error result
// messages the model can react to.
func (a *Agent) executeCall(ctx context.Context, st core.State, call core.ToolCall) callResult {
	ctx, span := a.tracer.Start(ctx, "agent.tool.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	res := a.invokeTool(ctx, st, call)
	logging.LogToolCall(a.logger, call.Name, call.ID, time.Since(start), res.err)

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}

	return res
}

func (a *Agent) invokeTool(ctx context.Context, st core.State, call core.ToolCall) callResult {
	registry := a.pipeline.Registry()

	t, ok := registry.Get(call.Name)
	if !ok {
		return failed(call, tool.NotFound(call.Name, registry.Names()))
	}

	args, err := tool.ParseArguments(call.Name, call.Arguments)
	if err != nil {
		return failed(call, err)
	}

	if a.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.ToolTimeout)
		defer cancel()
	}

	tc := core.NewToolContext(ctx, call.ID, call.Name, st, a.logger)

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("agent.tool.panic", "agent", a.name, "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
				out = outcome{err: tool.NewToolError(call.Name, fmt.Sprintf("tool panicked: %v", r), tool.CodeExecution)}
			}
			done <- out
		}()
		out.result, out.err = t.Call(tc, args)
	}()

	var (
		out       outcome
		completed bool
	)
	select {
	case out = <-done:
		completed = true
	case <-ctx.Done():
		// The tool ignored cancellation; abandon it along with its writes.
	}

	var classified *tool.ToolError
	if completed && errors.As(out.err, &classified) && classified.Code == tool.CodeDispatchTimeout {
		return failed(call, out.err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil && (!completed || out.err != nil) {
		msg := fmt.Sprintf("tool %q cancelled: %v", call.Name, ctxErr)
		if a.opts.ToolTimeout > 0 && ctxErr == context.DeadlineExceeded {
			msg = fmt.Sprintf("tool %q timed out after %s", call.Name, a.opts.ToolTimeout)
		}
		return failed(call, tool.NewToolError(call.Name, msg, tool.CodeExecution))
	}

	if out.err != nil {
		return failed(call, out.err)
	}

	text := a.pipeline.WrapToolResult(tc, call, tool.FormatResult(out.result))

	return callResult{
		message: core.NewToolMessage(call.ID, call.Name, text),
		update:  tc.Delta(),
	}
}

func failed(call core.ToolCall, err error) callResult {
	return callResult{
		message: core.NewToolErrorMessage(call.ID, call.Name, tool.FormatError(err)),
		err:     err,
	}
}
