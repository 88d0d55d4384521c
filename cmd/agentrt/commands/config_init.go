package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpagent/agentrt/internal/config"
)

var configInitCmd = &cobra.Command{
	Use:   "config",
	Short: "Write a starter config file to the default location",
	Long: `Config init writes a YAML config file with default agent
tuning, an example tool server, and the default LLM provider, to
--config if given or the XDG default location otherwise. It refuses
to overwrite an existing file.`,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return configErr(fmt.Errorf("agentrt: create config directory: %w", err))
	}

	path := configPath
	if path == "" {
		path = paths.DefaultConfigPath()
	}

	if err := config.WriteDefault(path); err != nil {
		return configErr(fmt.Errorf("agentrt: %w", err))
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}
