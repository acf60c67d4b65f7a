package mcp

import (
	"context"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/taskvox/internal/tools"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// resultRunner is implemented by tools that report a structured status.
type resultRunner interface {
	Run(ctx context.Context, argumentsInJSON string) tools.Result
}

// NewMCPServer creates an MCP server exposing tools from the registry.
// filter is an optional comma-separated list of tool names; empty exposes
// every tool.
func NewMCPServer(registry *tools.Registry, filter string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "taskvox",
		Version: Version,
	}, nil)

	allowed := parseFilter(filter)
	for _, name := range registry.ToolNames() {
		if !matchesFilter(allowed, name) {
			continue
		}
		t := registry.Tool(name)
		server.AddTool(toolSpecToMCPTool(t.Spec()), handler(name, t))
		slog.Debug("mcp tool registered", "tool", name)
	}

	return server
}

func handler(name string, t tools.Tool) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := string(req.Params.Arguments)

		if r, ok := t.(resultRunner); ok {
			res := r.Run(ctx, args)
			if !res.OK() {
				slog.Debug("mcp tool declined", "tool", name, "status", res.Status)
			}
			return textResult(res.Text, !res.OK()), nil
		}

		text, err := t.InvokableRun(ctx, args)
		if err != nil {
			slog.Debug("mcp tool error", "tool", name, "error", err)
			return textResult(err.Error(), true), nil
		}
		return textResult(text, false), nil
	}
}

func textResult(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: isError,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func parseFilter(filter string) map[string]bool {
	allowed := make(map[string]bool)
	for _, name := range strings.Split(filter, ",") {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = true
		}
	}
	return allowed
}

// matchesFilter reports whether toolName is exposed. An empty filter
// exposes everything.
func matchesFilter(allowed map[string]bool, toolName string) bool {
	return len(allowed) == 0 || allowed[toolName]
}
