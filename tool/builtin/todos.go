package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
	"github.com/hupe1980/deepmesh/tool"
)

const writeTodosDescription = `Use this tool to create and manage a structured task list for your current work session.
Each call replaces the entire list: always send every todo you want to keep, with its current status.
Statuses: pending, in_progress, completed. Mark a task in_progress before starting it and completed as soon as it is done.`

type writeTodosArgs struct {
	Todos []core.Todo `json:"todos"`
}

// NewWriteTodos returns the write_todos tool. It replaces the todo list
// wholesale; when several calls of one step set todos, the last in call
// order wins.
func NewWriteTodos() *tool.FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type":        "array",
				"description": "The complete, updated todo list.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string", "description": "What needs to be done."},
						"status": map[string]any{
							"type": "string",
							"enum": []any{string(core.TodoPending), string(core.TodoInProgress), string(core.TodoCompleted)},
						},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}

	return tool.NewFunctionTool(WriteTodosName, writeTodosDescription, params,
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var in writeTodosArgs
			if err := util.DecodeArgs(args, &in); err != nil {
				return nil, tool.WrapError(WriteTodosName, tool.CodeValidation, err)
			}
			if err := core.ValidateTodos(in.Todos); err != nil {
				return nil, tool.WrapError(WriteTodosName, tool.CodeValidation, err)
			}
			if in.Todos == nil {
				in.Todos = []core.Todo{}
			}

			tc.SetTodos(in.Todos)

			rendered, err := json.Marshal(in.Todos)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Updated todo list to %s", rendered), nil
		})
}
