package agent

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/deepmesh/logging"
	"github.com/hupe1980/deepmesh/middleware"
	"github.com/hupe1980/deepmesh/tool"
)

// DefaultMaxIterations caps model calls per invocation.
const DefaultMaxIterations = 25

// Options configures an Agent. Use functional options with New to override defaults.
type Options struct {
	Instruction Instruction
	// Middleware runs in slice order; system prompt contributions follow that order.
	Middleware []middleware.Middleware
	// Tools are host tools registered after middleware tools.
	Tools []tool.Tool
	// AllowedTools restricts the composed tool set by name; nil offers all.
	AllowedTools []string
	// MaxIterations caps model calls; <= 0 means unlimited.
	MaxIterations int
	// MaxParallelTools bounds concurrent tool calls within one step; <= 0 means unbounded.
	MaxParallelTools int
	// ToolTimeout bounds each tool call; 0 disables the timeout. It also bounds
	// the task tool, so keep it above the dispatch timeout: a tool deadline
	// that wins the race against a finished dispatch is reported as an
	// EXECUTION_ERROR "timed out" result rather than DISPATCH_TIMEOUT.
	ToolTimeout time.Duration
	// Stream requests streaming generation and emits partial events.
	Stream bool

	Logger         logging.Logger
	TracerProvider trace.TracerProvider
}

func defaultOptions() Options {
	return Options{
		MaxIterations: DefaultMaxIterations,
	}
}
