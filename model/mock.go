package model

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/deepmesh/core"
)

// ErrScriptExhausted is returned by MockModel when it runs out of scripted
// turns and has no fallback.
var ErrScriptExhausted = errors.New("mock model script exhausted")

// MockModel is a lightweight in-memory Model useful for tests & examples. It
// replays a script of assistant turns and records every request it receives.
// It is safe for concurrent use.
type MockModel struct {
	info Info

	mu       sync.Mutex
	script   []mockTurn
	fallback func(req Request) (core.Message, error)
	requests []Request
}

type mockTurn struct {
	msg core.Message
	err error
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// Reply queues a plain text assistant turn.
func (m *MockModel) Reply(text string) *MockModel {
	return m.Push(core.NewAssistantMessage(text))
}

// CallTools queues an assistant turn requesting the given tool calls.
func (m *MockModel) CallTools(calls ...core.ToolCall) *MockModel {
	return m.Push(core.NewAssistantMessage("", calls...))
}

// Push queues an arbitrary assistant message.
func (m *MockModel) Push(msg core.Message) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockTurn{msg: msg})
	return m
}

// Fail queues a backend failure.
func (m *MockModel) Fail(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockTurn{err: err})
	return m
}

// WithFallback sets a function answering requests once the script is exhausted.
func (m *MockModel) WithFallback(fn func(req Request) (core.Message, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

// Requests returns a copy of the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) (core.Message, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.script) > 0 {
		turn := m.script[0]
		m.script = m.script[1:]
		m.mu.Unlock()
		return turn.msg, turn.err
	}
	fallback := m.fallback
	m.mu.Unlock()

	if fallback != nil {
		return fallback(req)
	}
	return core.Message{}, ErrScriptExhausted
}

// Generate implements Model; emits optional streaming char chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		msg, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}
		msg.Role = core.RoleAssistant

		if req.Stream {
			for _, r := range msg.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Message: core.NewAssistantMessage(string(r))}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Message: msg, FinishReason: finishReason(msg)}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
