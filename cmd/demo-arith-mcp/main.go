// Command demo-arith-mcp runs the arithmetic reference MCP server over
// stdio, for use as a configured tool server in end-to-end scenarios.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mcpagent/agentrt/pkg/mcpserver/arith"
)

func main() {
	s := arith.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
