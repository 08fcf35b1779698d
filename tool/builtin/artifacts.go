package builtin

import (
	"fmt"

	"github.com/hupe1980/deepmesh/artifact"
	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
	"github.com/hupe1980/deepmesh/tool"
)

const (
	listArtifactsDescription = `Lists the names of all artifacts in the shared artifact store.`

	readArtifactDescription = `Reads an artifact from the shared artifact store.
Results are returned in cat -n format with line numbers starting at 1.
By default up to 2000 lines are returned from the beginning; use offset (0-based line) and limit to page through long artifacts.
Lines longer than 2000 characters are truncated.`

	writeArtifactDescription = `Writes an artifact to the shared artifact store, creating it or overwriting existing content.
Prefer edit_artifact for changes to existing artifacts.`

	editArtifactDescription = `Performs an exact string replacement in an artifact.
The edit fails if old_string is not found, or if it occurs more than once and replace_all is false.
Provide more surrounding context to make old_string unique, or set replace_all to replace every occurrence.`
)

// NewListArtifacts returns the list_artifacts tool.
func NewListArtifacts() *tool.FunctionTool {
	params := map[string]any{"type": "object", "properties": map[string]any{}}

	return tool.NewFunctionTool(ListArtifactsName, listArtifactsDescription, params,
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			return tc.ArtifactNames(), nil
		})
}

type readArtifactArgs struct {
	Name   string `json:"name"`
	Offset *int   `json:"offset"`
	Limit  *int   `json:"limit"`
}

// NewReadArtifact returns the read_artifact tool.
func NewReadArtifact() *tool.FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":   map[string]any{"type": "string", "description": "Artifact name."},
			"offset": map[string]any{"type": "integer", "description": "0-based line to start reading from.", "default": artifact.DefaultReadOffset},
			"limit":  map[string]any{"type": "integer", "description": "Maximum number of lines to read.", "default": artifact.DefaultReadLimit},
		},
		"required": []string{"name"},
	}

	return tool.NewFunctionTool(ReadArtifactName, readArtifactDescription, params,
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var in readArtifactArgs
			if err := util.DecodeArgs(args, &in); err != nil {
				return nil, tool.WrapError(ReadArtifactName, tool.CodeValidation, err)
			}

			content, ok := tc.Artifact(in.Name)
			if !ok {
				return nil, fmt.Errorf("%w: '%s'", artifact.ErrNotFound, in.Name)
			}

			offset, limit := artifact.DefaultReadOffset, artifact.DefaultReadLimit
			if in.Offset != nil {
				offset = *in.Offset
			}
			if in.Limit != nil {
				limit = *in.Limit
			}

			return artifact.Read(content, offset, limit)
		})
}

type writeArtifactArgs struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// NewWriteArtifact returns the write_artifact tool.
func NewWriteArtifact() *tool.FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":    map[string]any{"type": "string", "description": "Artifact name."},
			"content": map[string]any{"type": "string", "description": "Full artifact content."},
		},
		"required": []string{"name", "content"},
	}

	return tool.NewFunctionTool(WriteArtifactName, writeArtifactDescription, params,
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var in writeArtifactArgs
			if err := util.DecodeArgs(args, &in); err != nil {
				return nil, tool.WrapError(WriteArtifactName, tool.CodeValidation, err)
			}
			if in.Name == "" {
				return nil, tool.NewToolError(WriteArtifactName, "name must not be empty", tool.CodeValidation)
			}

			tc.WriteArtifact(in.Name, in.Content)

			return fmt.Sprintf("Updated artifact %s", in.Name), nil
		})
}

type editArtifactArgs struct {
	Name       string `json:"name"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

// NewEditArtifact returns the edit_artifact tool.
func NewEditArtifact() *tool.FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string", "description": "Artifact name."},
			"old_string":  map[string]any{"type": "string", "description": "Exact text to replace."},
			"new_string":  map[string]any{"type": "string", "description": "Replacement text."},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence.", "default": false},
		},
		"required": []string{"name", "old_string", "new_string"},
	}

	return tool.NewFunctionTool(EditArtifactName, editArtifactDescription, params,
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var in editArtifactArgs
			if err := util.DecodeArgs(args, &in); err != nil {
				return nil, tool.WrapError(EditArtifactName, tool.CodeValidation, err)
			}

			content, ok := tc.Artifact(in.Name)
			if !ok {
				return nil, fmt.Errorf("%w: '%s'", artifact.ErrNotFound, in.Name)
			}

			updated, n, err := artifact.Edit(content, in.OldString, in.NewString, in.ReplaceAll)
			if err != nil {
				return nil, err
			}

			tc.WriteArtifact(in.Name, updated)

			return fmt.Sprintf("Successfully replaced %d instance(s) of the string in '%s'", n, in.Name), nil
		})
}
