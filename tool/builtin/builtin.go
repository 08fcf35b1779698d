// Package builtin provides the tools every deep agent starts with: the todo
// writer and the artifact list/read/write/edit family. Each tool is an
// independent tool.Tool, so hosts can call them directly through tool.Invoke.
package builtin

import (
	"fmt"

	"github.com/hupe1980/deepmesh/tool"
)

// Built-in tool names.
const (
	WriteTodosName    = "write_todos"
	ListArtifactsName = "list_artifacts"
	ReadArtifactName  = "read_artifact"
	WriteArtifactName = "write_artifact"
	EditArtifactName  = "edit_artifact"
)

// Names lists every built-in tool in registration order.
var Names = []string{
	WriteTodosName,
	ListArtifactsName,
	ReadArtifactName,
	WriteArtifactName,
	EditArtifactName,
}

// All returns fresh instances of every built-in tool.
func All() []tool.Tool {
	return []tool.Tool{
		NewWriteTodos(),
		NewListArtifacts(),
		NewReadArtifact(),
		NewWriteArtifact(),
		NewEditArtifact(),
	}
}

// ArtifactTools returns the artifact family only.
func ArtifactTools() []tool.Tool {
	return []tool.Tool{
		NewListArtifacts(),
		NewReadArtifact(),
		NewWriteArtifact(),
		NewEditArtifact(),
	}
}

// Select returns the built-ins named in names, in the given order. A nil
// slice selects all of them.
func Select(names []string) ([]tool.Tool, error) {
	if names == nil {
		return All(), nil
	}

	byName := map[string]tool.Tool{}
	for _, t := range All() {
		byName[t.Name()] = t
	}

	out := make([]tool.Tool, 0, len(names))
	for _, n := range names {
		t, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown built-in tool %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// IsArtifactTool reports whether name is one of the artifact tools.
func IsArtifactTool(name string) bool {
	switch name {
	case ListArtifactsName, ReadArtifactName, WriteArtifactName, EditArtifactName:
		return true
	}
	return false
}
