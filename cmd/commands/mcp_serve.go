package commands

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	taskvoxmcp "github.com/dohr-michael/taskvox/internal/mcp"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose the task tools as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Comma-separated tool names to expose (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the MCP stdio transport
	setupLogging(cmd, true)
	cfg := loadConfig(cmd)

	registry := newToolRegistry(cfg, newTaskStore(cfg))
	filter := cmd.StringArg("filter")

	slog.Debug("starting MCP server", "filter", filter, "tools", len(registry.ToolNames()))

	server := taskvoxmcp.NewMCPServer(registry, filter)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
