// Command agentrt is the runtime's CLI: one-shot and REPL front ends
// over the orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/mcpagent/agentrt/cmd/agentrt/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCodeFor(err))
	}
}
