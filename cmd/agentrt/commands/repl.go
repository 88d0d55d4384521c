package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpagent/agentrt/internal/store"
)

var replSessionID string

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive read-eval-print loop",
	Long: `Repl reads lines of free text from stdin, treating each as a
request for the orchestrator, until "quit" or "exit". The reserved
words "stats", "report", and "reset" call the matching orchestrator
operation instead of being planned as a request; "skip" discards a
task that is awaiting a reply (the line-buffered stand-in for the
interface's Esc key, since raw terminal input is the REPL front end's
own concern, not this runtime's).`,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().StringVarP(&replSessionID, "session", "s", "", "session id to resume (defaults to a freshly minted one)")
}

func runREPL(cmd *cobra.Command, args []string) error {
	sessionID := replSessionID
	if sessionID == "" {
		sessionID = store.NewSessionID()
	}

	ctx := context.Background()
	rt, err := boot(ctx, sessionID)
	if err != nil {
		return err
	}
	defer rt.orch.Close()

	fmt.Printf("session %s ready. type a request, or stats/report/reset/skip/quit.\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "quit", "exit":
			return nil
		case "stats":
			stats, err := rt.orch.Stats()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Printf("requests=%d completed=%d failed=%d retries=%d\n",
				stats.RequestsIssued, stats.TasksCompleted, stats.TasksFailed, stats.RetriesAttempted)
		case "report":
			report, err := rt.orch.Report()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Print(report)
		case "reset":
			if err := rt.orch.Reset(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Println("queue reset.")
		case "skip":
			result, err := rt.orch.Skip(sessionID)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Println(result)
		default:
			answer, err := rt.orch.ProcessRequest(ctx, sessionID, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Println(answer)
		}
	}

	return scanner.Err()
}
