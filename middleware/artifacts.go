package middleware

import (
	"github.com/hupe1980/deepmesh/artifact"
	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
	"github.com/hupe1980/deepmesh/model"
	"github.com/hupe1980/deepmesh/tool"
	"github.com/hupe1980/deepmesh/tool/builtin"
)

const (
	// ArtifactsName is the name of the artifacts middleware.
	ArtifactsName = "artifacts"

	// DefaultEvictTokenLimit is the token size above which tool results are
	// moved into an artifact.
	DefaultEvictTokenLimit = 20000

	// LargeResultPrefix namespaces evicted tool results.
	LargeResultPrefix = "large_tool_results/"

	evictSampleLines = 10
)

// ArtifactsOptions configures the artifacts middleware.
type ArtifactsOptions struct {
	SystemPrompt string
	// EvictTokenLimit enables large result eviction. Zero or negative disables it.
	EvictTokenLimit int
	// TokenCounter measures results. Nil approximates four characters per token.
	TokenCounter TokenCounter
	// Tools restricts the registered artifact tools by name; nil keeps all four.
	Tools []string
}

// Artifacts contributes the artifact tools, their prompt and large tool
// result eviction.
type Artifacts struct {
	Base
	opts  ArtifactsOptions
	tools []tool.Tool
}

// NewArtifacts creates the artifacts middleware.
func NewArtifacts(optFns ...func(o *ArtifactsOptions)) *Artifacts {
	opts := ArtifactsOptions{
		SystemPrompt:    DefaultArtifactsPrompt,
		EvictTokenLimit: DefaultEvictTokenLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TokenCounter == nil {
		opts.TokenCounter = charCounter{}
	}
	tools := builtin.ArtifactTools()
	if opts.Tools != nil {
		keep := make(map[string]struct{}, len(opts.Tools))
		for _, n := range opts.Tools {
			keep[n] = struct{}{}
		}
		filtered := tools[:0]
		for _, t := range tools {
			if _, ok := keep[t.Name()]; ok {
				filtered = append(filtered, t)
			}
		}
		tools = filtered
	}
	return &Artifacts{opts: opts, tools: tools}
}

// Name implements Middleware.
func (m *Artifacts) Name() string { return ArtifactsName }

// Tools implements Middleware.
func (m *Artifacts) Tools() []tool.Tool { return m.tools }

// ModifyRequest implements Middleware.
func (m *Artifacts) ModifyRequest(req model.Request, _ core.State) (model.Request, error) {
	return AppendSystemPrompt(req, m.opts.SystemPrompt), nil
}

// WrapToolResult moves oversized results of non-artifact tools into the
// artifact large_tool_results/<call id> and returns a short notice instead.
func (m *Artifacts) WrapToolResult(tc *core.ToolContext, call core.ToolCall, result string) string {
	if m.opts.EvictTokenLimit <= 0 || builtin.IsArtifactTool(call.Name) {
		return result
	}
	if m.opts.TokenCounter.CountTokens(result) <= m.opts.EvictTokenLimit {
		return result
	}

	name := LargeResultPrefix + call.ID
	tc.WriteArtifact(name, result)

	notice, err := util.RenderTemplate(TooLargeToolResultTemplate, map[string]any{
		"CallID": call.ID,
		"Name":   name,
		"Sample": artifact.Sample(result, evictSampleLines),
	})
	if err != nil {
		tc.LogWarn("artifacts.evict.render_failed", "error", err.Error())
		return result
	}

	tc.LogInfo("artifacts.evict", "tool", call.Name, "call_id", call.ID, "artifact", name, "size", len(result))

	return notice
}
