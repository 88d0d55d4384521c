// Command demo-clock-mcp runs the clock reference MCP server over
// stdio, for use as a configured tool server in end-to-end scenarios.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mcpagent/agentrt/pkg/mcpserver/clock"
)

func main() {
	s := clock.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
