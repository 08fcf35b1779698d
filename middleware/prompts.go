package middleware

// Default system prompt sections. Hosts can override each through the
// middleware options; the text is configuration, not control flow.
const (
	DefaultTodoListPrompt = `## write_todos

You have access to the write_todos tool to plan and track multi-step work.
Use it for complex tasks with three or more steps, and skip it for simple requests.
Keep exactly one task in_progress while you work, and mark tasks completed as soon as they are done.
Each call replaces the whole list, so always send every task you want to keep.`

	DefaultArtifactsPrompt = `## Artifacts: list_artifacts, read_artifact, write_artifact, edit_artifact

You share a flat store of named text artifacts with the user and your subagents.
Artifact names are plain keys; there are no directories.
- list_artifacts: list all artifact names
- read_artifact: read an artifact with line numbers, paging with offset and limit
- write_artifact: create or overwrite an artifact
- edit_artifact: replace an exact string inside an artifact`

	DefaultAgentMemoryPrompt = `## Long-term memory

The section marked with <agent_memory> tags holds your persistent instructions.
Follow them, and propose updates when the user corrects you or asks you to remember something.`

	// TooLargeToolResultTemplate is rendered with .CallID, .Name and .Sample.
	TooLargeToolResultTemplate = `Tool result too large, the result of this tool call {{.CallID}} was saved as the artifact {{.Name}}
You can read the result with the read_artifact tool, but make sure to only read part of the result at a time.
You can do this by specifying an offset and limit in the read_artifact tool call.
For example, to read the first 100 lines, use read_artifact with offset=0 and limit=100.

Here are the first 10 lines of the result:
{{.Sample}}`
)
