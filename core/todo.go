package core

import "fmt"

// TodoStatus is the lifecycle state of a Todo.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted:
		return true
	}
	return false
}

// Todo is one entry of the model's plan. It has no identity beyond its
// position; the whole list is replaced on every write.
type Todo struct {
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// ValidateTodos checks every entry has content and a known status.
func ValidateTodos(todos []Todo) error {
	for i, td := range todos {
		if td.Content == "" {
			return fmt.Errorf("todo %d: content is required", i)
		}
		if !td.Status.Valid() {
			return fmt.Errorf("todo %d: invalid status %q", i, td.Status)
		}
	}
	return nil
}

func cloneTodos(todos []Todo) []Todo {
	if todos == nil {
		return nil
	}
	return append(make([]Todo, 0, len(todos)), todos...)
}
