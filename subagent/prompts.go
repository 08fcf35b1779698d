package subagent

const (
	// DefaultTaskPrompt is appended to the parent's system prompt.
	DefaultTaskPrompt = `## task (subagent spawner)

You have access to a task tool that launches short-lived subagents for isolated work.
Each subagent starts with a fresh conversation containing only your description, works on its own, and returns a single final report.
Use it for complex, independent subtasks that would otherwise flood your context.
Launch several subagents in the same turn when their work is independent; they run in parallel.
Write a complete description: the subagent cannot see your conversation and you cannot talk to it after launch.
The subagent's report is not shown to the user, so summarize what matters in your own answer.`

	// DefaultGeneralPurposePrompt drives the built-in general-purpose subagent.
	DefaultGeneralPurposePrompt = `You are a general-purpose assistant working on a single delegated task.
Complete the task described in the user message using the tools available to you.
When you are done, reply with a concise, self-contained report of your findings or results. That report is the only thing the delegating agent will see.`

	// DefaultGeneralPurposeDescription advertises the general-purpose subagent.
	DefaultGeneralPurposeDescription = "General-purpose agent for researching complex questions and executing multi-step tasks. It has the same tools as the main agent."

	// TaskToolDescriptionTemplate is rendered with .Subagents, one
	// "- name: description" line per subagent.
	TaskToolDescriptionTemplate = `Launch an ephemeral subagent to handle a complex, multi-step task in an isolated context.

Available subagent types:
{{.Subagents}}

Pass the subagent type in subagent_name and a detailed, self-contained task in description.
The subagent returns one final message; its intermediate steps are not visible to you.`
)
