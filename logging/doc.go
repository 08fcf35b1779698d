// Package logging provides a minimal logging interface and adapters for deepmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that agents, tools and the subagent dispatcher use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh, err := deepmesh.New(llm, func(o *deepmesh.Options) { o.Logger = logger })
package logging
