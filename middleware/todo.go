package middleware

import (
	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
	"github.com/hupe1980/deepmesh/tool/builtin"
)

// TodoListName is the name of the todo list middleware.
const TodoListName = "todo_list"

// TodoListOptions configures the todo list middleware.
type TodoListOptions struct {
	SystemPrompt string
}

// TodoList contributes the write_todos tool and its planning prompt.
type TodoList struct {
	Base
	prompt string
	tools  []tool.Tool
}

// NewTodoList creates the todo list middleware.
func NewTodoList(optFns ...func(o *TodoListOptions)) *TodoList {
	opts := TodoListOptions{SystemPrompt: DefaultTodoListPrompt}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &TodoList{
		prompt: opts.SystemPrompt,
		tools:  []tool.Tool{builtin.NewWriteTodos()},
	}
}

// Name implements Middleware.
func (m *TodoList) Name() string { return TodoListName }

// Tools implements Middleware.
func (m *TodoList) Tools() []tool.Tool { return m.tools }

// ModifyRequest implements Middleware.
func (m *TodoList) ModifyRequest(req model.Request, _ core.State) (model.Request, error) {
	return AppendSystemPrompt(req, m.prompt), nil
}
