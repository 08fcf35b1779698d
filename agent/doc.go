// Package agent implements the control loop that drives one agent
// invocation: the middleware pipeline builds a request, the model answers,
// requested tools run concurrently and their updates merge into state in call
// order, until the model replies without tool calls or the iteration cap is
// exceeded.
//
// The loop moves through four phases:
//
//	AwaitingModel -> ModelReturned -> ToolsPending -> AwaitingModel ...
//	                              \-> Terminal
//
// AwaitingModel is the only phase that blocks on the model backend. Every
// transition into it counts against MaxIterations; exceeding the cap fails
// the invocation with *core.IterationLimitError.
//
// Invoke is the asynchronous contract and streams Events; Run is the
// blocking wrapper most callers want.
package agent
