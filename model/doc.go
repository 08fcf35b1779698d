// Package model defines the provider neutral language model contract used by
// the control loop: Request/Response types, tool definitions, the streaming
// Model interface and helpers (Collect, RateLimited, MockModel, Func).
//
// Provider adapters live in subpackages (anthropic, openai).
package model
