package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpagent/agentrt/internal/store"
)

var runSessionID string

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send one request and print the final answer",
	Long: `Run processes a single request end to end: it connects the
configured tool servers, plans and executes whatever tasks the request
needs, and prints the final interpreted answer.

Exit codes: 0 on success, 1 on a configuration or tool-server
connection failure, 2 if the request's tasks could not be completed.`,
	RunE: runOneShot,
}

func init() {
	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "", "session id to use (defaults to a freshly minted one)")
}

func runOneShot(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if message == "" {
		return configErr(fmt.Errorf("agentrt: a request message is required"))
	}

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = store.NewSessionID()
	}

	ctx := context.Background()
	rt, err := boot(ctx, sessionID)
	if err != nil {
		return err
	}
	defer rt.orch.Close()

	answer, err := rt.orch.ProcessRequest(ctx, sessionID, message)
	if err != nil {
		return executionErr(fmt.Errorf("agentrt: %w", err))
	}

	fmt.Println(answer)

	stats, statErr := rt.orch.Stats()
	if statErr == nil && stats.TasksFailed > 0 {
		return &exitError{code: 2, err: fmt.Errorf("agentrt: %d task(s) failed", stats.TasksFailed)}
	}
	return nil
}
