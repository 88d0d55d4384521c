// Package commands wires the agentrt CLI's cobra command tree:
// one-shot mode (agentrt run) and the interactive REPL (agentrt repl),
// both built on the same bootstrap sequence.
package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpagent/agentrt/internal/logging"
)

var (
	// Version is set by the build.
	Version = "0.1.0"

	configPath string
	logLevel   string
	logFile    bool
)

var rootCmd = &cobra.Command{
	Use:     "agentrt",
	Short:   "agentrt drives an MCP tool-server fleet from natural-language requests",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			LogToFile: logFile,
		}
		if logLevel == "" {
			logCfg.Level = logging.WarnLevel
		}
		logging.Init(logCfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file (defaults to the XDG config location)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "also write logs to a timestamped file under the system temp directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// exitError pairs an error with the process exit code its failure
// class should produce: 1 for configuration/connection, 2 for
// task-execution failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error    { return &exitError{code: 1, err: err} }
func executionErr(err error) error { return &exitError{code: 2, err: err} }

// ExitCodeFor maps a command error to the process exit code it should
// produce; errors not wrapped with configErr/executionErr default to 1.
func ExitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
