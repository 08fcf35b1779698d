package subagent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/tool"
)

const tracerName = "github.com/hupe1980/deepmesh/subagent"

// DefaultDispatchTimeout bounds a single dispatch.
const DefaultDispatchTimeout = 5 * time.Minute

// Invocation is one request to run a subagent.
type Invocation struct {
	Description  string
	SubagentName string
	CallID       string
}

// Result is what a dispatch contributes to the parent: the child's final
// answer and the state update to merge.
type Result struct {
	Output string
	Update core.Update
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Timeout bounds each dispatch; <= 0 disables it.
	Timeout        time.Duration
	Logger         logging.Logger
	TracerProvider trace.TracerProvider
}

// Dispatcher runs subagents in quarantine.
//
// Responsibilities:
//   - Resolves the subagent by name in its Registry
//   - Starts the child from a fresh state holding only the task description,
//     a copy of the parent's artifacts and its extension fields
//   - Bounds the child by the dispatch timeout
//   - Reduces the child's outcome to its final answer plus the artifacts and
//     extension fields it changed
//
// Concurrency:
//
//	A Dispatcher is safe for concurrent use. Sibling dispatches of one step
//	never share state; their updates are merged by the caller in call order.
//
// Error Semantics:
//
//	SUBAGENT_NOT_FOUND -> unknown subagent name
//	DISPATCH_TIMEOUT   -> the dispatch timeout or a caller deadline expired
//	EXECUTION_ERROR    -> the child failed
//	context.Canceled   -> the caller was cancelled; returned unwrapped
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   logging.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Timeout: DefaultDispatchTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Dispatcher{
		registry: registry,
		timeout:  opts.Timeout,
		logger:   logging.OrNoOp(opts.Logger),
		tracer:   tp.Tracer(tracerName),
	}
}

// Registry returns the subagent registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs the named subagent on a child state derived from parent:
//
//	messages  = [user: inv.Description]
//	todos     = []
//	artifacts = snapshot of parent artifacts
//	extra     = copy of parent extension fields
//
// Only the child's final message content is returned. The update holds the
// artifacts the child created or changed relative to the snapshot and the
// extension fields it changed; the child's messages and todos are dropped.
//
// Failures are returned as *tool.ToolError so the caller can hand them to
// the model: SUBAGENT_NOT_FOUND, DISPATCH_TIMEOUT, or EXECUTION_ERROR for a
// child that failed.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, parent core.State) (_ Result, err error) {
	ctx, span := d.tracer.Start(ctx, "subagent.dispatch", trace.WithAttributes(
		attribute.String("subagent.name", inv.SubagentName),
		attribute.String("tool.call_id", inv.CallID),
	))
	start := time.Now()
	defer func() {
		logging.LogDispatch(d.logger, inv.SubagentName, inv.CallID, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	runnable, ok := d.registry.Get(inv.SubagentName)
	if !ok {
		return Result{}, tool.NewToolError(TaskToolName,
			fmt.Sprintf("subagent %q not found; available subagents: %s", inv.SubagentName, strings.Join(d.registry.Names(), ", ")),
			tool.CodeSubagentNotFound)
	}

	snapshot := parent.Artifacts.Clone()
	child := core.NewState(core.NewUserMessage(inv.Description))
	child.Artifacts = snapshot.Clone()
	if parent.Extra != nil {
		child.Extra = make(map[string]any, len(parent.Extra))
		for k, v := range parent.Extra {
			child.Extra[k] = v
		}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	type outcome struct {
		state core.State
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		st, err := runnable.Run(runCtx, child)
		done <- outcome{state: st, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
	}

	if runCtx.Err() != nil && ctx.Err() == nil && (out.err != nil || out.state.Messages == nil) {
		d.logger.Warn("subagent.dispatch.timeout", "subagent", inv.SubagentName, "call_id", inv.CallID, "timeout", d.timeout.String())
		return Result{}, &tool.ToolError{
			Tool:    TaskToolName,
			Message: fmt.Sprintf("subagent %q timed out after %s", inv.SubagentName, d.timeout),
			Code:    tool.CodeDispatchTimeout,
			Details: runCtx.Err(),
		}
	}
	if err := ctx.Err(); err != nil {
		// A caller deadline, such as the parent's tool timeout, still ends
		// the dispatch as a timeout; only cancellation propagates as is.
		if errors.Is(err, context.DeadlineExceeded) {
			d.logger.Warn("subagent.dispatch.timeout", "subagent", inv.SubagentName, "call_id", inv.CallID, "cause", "caller deadline")
			return Result{}, &tool.ToolError{
				Tool:    TaskToolName,
				Message: fmt.Sprintf("subagent %q timed out: caller deadline exceeded", inv.SubagentName),
				Code:    tool.CodeDispatchTimeout,
				Details: err,
			}
		}
		return Result{}, err
	}
	if out.err != nil {
		return Result{}, &tool.ToolError{
			Tool:    TaskToolName,
			Message: fmt.Sprintf("subagent %q failed: %v", inv.SubagentName, out.err),
			Code:    tool.CodeExecution,
			Details: out.err,
		}
	}

	return Result{
		Output: finalContent(out.state),
		Update: core.Update{
			Artifacts:    out.state.Artifacts.Diff(snapshot),
			ReplaceExtra: changedExtra(out.state.Extra, parent.Extra),
		},
	}, nil
}

func finalContent(st core.State) string {
	if last, ok := st.LastMessage(); ok {
		return last.Content
	}
	return ""
}

// changedExtra returns the child's final values for extension fields that
// differ from the parent's. The values already contain the parent's state,
// so they merge back through ReplaceExtra rather than the field reducers.
func changedExtra(child, parent map[string]any) map[string]any {
	var out map[string]any
	for k, v := range child {
		if old, ok := parent[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[k] = v
	}
	return out
}

// IsTimeout reports whether err is a dispatch timeout.
func IsTimeout(err error) bool { return errors.Is(err, core.ErrDispatchTimeout) }
