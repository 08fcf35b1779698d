// Package core provides the foundational domain types shared by every
// deepmesh package:
//
//   - Message / ToolCall (the role-tagged conversation)
//   - Todo (the model-owned plan)
//   - State / Update plus the Schema merge engine with per-field reducers
//   - ToolContext (scoped, read-only state view that accumulates an Update)
//   - IterationLimiter and the error taxonomy shared by the control loop
//
// State values are never shared between a parent loop and a child loop:
// every hand-off goes through Clone, and every mutation through Apply.
package core
