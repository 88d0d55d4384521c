// Package arith provides a reference MCP server exposing "add" and
// "multiply" tools, used by the runtime's end-to-end scenarios and
// tests instead of a real calculator backend.
package arith

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer builds the arithmetic MCP server.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"demo-arith",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	addTool := mcp.NewTool("add",
		mcp.WithDescription("Adds two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("first addend")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("second addend")),
	)
	s.AddTool(addTool, addHandler)

	multiplyTool := mcp.NewTool("multiply",
		mcp.WithDescription("Multiplies two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("first factor")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("second factor")),
	)
	s.AddTool(multiplyTool, multiplyHandler)

	return s
}

func addHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, b, err := operands(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatFloat(a + b)), nil
}

func multiplyHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, b, err := operands(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatFloat(a * b)), nil
}

func operands(request mcp.CallToolRequest) (float64, float64, error) {
	args := request.GetArguments()
	a, err := toFloat64(args["a"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid \"a\": %w", err)
	}
	b, err := toFloat64(args["b"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid \"b\": %w", err)
	}
	return a, b, nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
