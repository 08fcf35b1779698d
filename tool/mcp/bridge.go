// Package mcp exposes tools served by a Model Context Protocol server as
// deepmesh host tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/deepmesh/core"
	"github.com/hupe1980/deepmesh/internal/util"
	"github.com/hupe1980/deepmesh/tool"
)

// DefaultCallTimeout bounds a single MCP tool call.
const DefaultCallTimeout = 60 * time.Second

// Caller is the subset of an MCP client used by bridge tools.
// *client.Client satisfies it.
type Caller interface {
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
}

var _ Caller = (*mcpclient.Client)(nil)

// BridgeTool adapts an MCP tool into the tool.Tool interface.
type BridgeTool struct {
	serverName     string
	toolName       string // original MCP tool name
	registeredName string // "{prefix}__{toolName}" when a prefix is set
	description    string
	inputSchema    map[string]any
	caller         Caller
	timeout        time.Duration
}

// Options configures bridge tools.
type Options struct {
	// Prefix namespaces tool names as "<prefix>__<name>". Defaults to the server name.
	Prefix string
	// Timeout bounds each call. Defaults to DefaultCallTimeout.
	Timeout time.Duration
}

// NewBridgeTool creates a BridgeTool from an MCP tool definition.
func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, caller Caller, optFns ...func(o *Options)) *BridgeTool {
	opts := Options{Prefix: serverName, Timeout: DefaultCallTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}

	registered := mcpTool.Name
	if opts.Prefix != "" {
		registered = opts.Prefix + "__" + mcpTool.Name
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCallTimeout
	}

	return &BridgeTool{
		serverName:     serverName,
		toolName:       mcpTool.Name,
		registeredName: registered,
		description:    mcpTool.Description,
		inputSchema:    inputSchemaToMap(mcpTool.InputSchema),
		caller:         caller,
		timeout:        opts.Timeout,
	}
}

// Name implements tool.Tool. It returns the registered, possibly prefixed, name.
func (t *BridgeTool) Name() string { return t.registeredName }

// Description implements tool.Tool.
func (t *BridgeTool) Description() string { return t.description }

// Parameters implements tool.Tool. It returns the server's input schema.
func (t *BridgeTool) Parameters() map[string]any { return t.inputSchema }

// ServerName returns the name of the MCP server this tool belongs to.
func (t *BridgeTool) ServerName() string { return t.serverName }

// OriginalName returns the original MCP tool name (without prefix).
func (t *BridgeTool) OriginalName() string { return t.toolName }

// Call forwards the call to the MCP server. Server reported failures and
// transport errors become execution errors.
func (t *BridgeTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.inputSchema); err != nil {
		return nil, &tool.ToolError{
			Tool:    t.registeredName,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    tool.CodeValidation,
			Details: err,
		}
	}

	callCtx, cancel := context.WithTimeout(toolCtx.Context(), t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.toolName
	req.Params.Arguments = args

	toolCtx.LogDebug("mcp.call.start", "server", t.serverName, "tool", t.toolName)

	result, err := t.caller.CallTool(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, tool.NewToolError(t.registeredName, fmt.Sprintf("MCP tool %q timeout after %s", t.registeredName, t.timeout), tool.CodeExecution)
		}
		return nil, tool.WrapError(t.registeredName, tool.CodeExecution, fmt.Errorf("MCP tool %q error: %w", t.registeredName, err))
	}

	text := extractTextContent(result)
	if result.IsError {
		return nil, tool.NewToolError(t.registeredName, text, tool.CodeExecution)
	}

	return text, nil
}

// LoadTools lists the server's tools and wraps each as a BridgeTool.
func LoadTools(ctx context.Context, serverName string, caller Caller, optFns ...func(o *Options)) ([]tool.Tool, error) {
	res, err := caller.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools from MCP server %q: %w", serverName, err)
	}

	out := make([]tool.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, NewBridgeTool(serverName, t, caller, optFns...))
	}
	return out, nil
}

// ConnectStdio launches an MCP server subprocess and performs the
// initialize handshake. The caller must Close the returned client.
func ConnectStdio(ctx context.Context, command string, env []string, args ...string) (*mcpclient.Client, error) {
	c, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("start MCP server %q: %w", command, err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: "deepmesh", Version: "0.1.0"}

	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize MCP server %q: %w", command, err)
	}

	return c, nil
}

// inputSchemaToMap converts mcp.ToolInputSchema to the map format expected by tool.Tool.Parameters().
func inputSchemaToMap(schema mcpgo.ToolInputSchema) map[string]any {
	m := map[string]any{"type": schema.Type}
	if schema.Type == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}

// extractTextContent concatenates all text content from a CallToolResult.
func extractTextContent(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
