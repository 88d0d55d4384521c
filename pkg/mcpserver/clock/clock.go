// Package clock provides a reference MCP server exposing a
// "current_time" tool, used to exercise a second, independent tool
// server in multi-server end-to-end scenarios.
package clock

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer builds the clock MCP server.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"demo-clock",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	tool := mcp.NewTool("current_time",
		mcp.WithDescription("Returns the current UTC time in RFC3339 form"),
	)
	s.AddTool(tool, currentTimeHandler)

	return s
}

func currentTimeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().UTC().Format(time.RFC3339)), nil
}
