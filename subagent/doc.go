// Package subagent delegates work to isolated child control loops.
//
// A Spec describes a subagent either by prompt (plus optional tool subset,
// model override and extra middleware) or as a prebuilt Runnable. Specs are
// compiled once into a Registry; the Dispatcher runs a compiled subagent
// against a fresh child state and returns only its final answer, merging the
// artifacts it changed back into the parent. The task tool and Middleware
// expose the dispatcher to a parent loop.
//
// Subagents cannot delegate further: a subagent whose compiled tool set
// contains the task tool is rejected with core.ErrRecursiveDelegation.
package subagent
