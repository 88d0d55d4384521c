package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcpagent/agentrt/internal/connmgr"
	"github.com/mcpagent/agentrt/internal/safetext"
)

// ConnectionConfig lists the tool servers the connection manager spawns.
type ConnectionConfig struct {
	Servers []connmgr.ServerConfig `mapstructure:"servers" yaml:"servers"`
}

// LLMConfig selects and parameterizes the chat-completions backend.
type LLMConfig struct {
	Provider        string  `mapstructure:"provider" yaml:"provider"`
	Model           string  `mapstructure:"model" yaml:"model"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	ReasoningEffort string  `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`

	// APIKey is never read from a config file, only LLM_API_KEY; its
	// mapstructure:"-" tag keeps it out of the file schema, so an api
	// key written into a config file is an unknown key and the strict
	// unmarshal pass rejects the file.
	APIKey string `mapstructure:"-" yaml:"-"`
}

// AgentConfig tunes the execution engine and orchestrator.
type AgentConfig struct {
	MaxAttempts            int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	ToolTimeoutSeconds     int    `mapstructure:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`
	MaxContextEntries      int    `mapstructure:"max_context_entries" yaml:"max_context_entries"`
	CustomInstructionsPath string `mapstructure:"custom_instructions_path" yaml:"custom_instructions_path"`
	Interpret              bool   `mapstructure:"interpret" yaml:"interpret"`
}

// ToolTimeout returns ToolTimeoutSeconds as a time.Duration.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutSeconds) * time.Second
}

// UIConfig selects the CLI's front-end mode.
type UIConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"` // "oneshot" | "repl"
}

// Config is the single configuration document: connection
// servers, LLM selection, agent tuning knobs, and UI mode.
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	UI         UIConfig         `mapstructure:"ui" yaml:"ui"`

	// SurrogatePolicy is never part of the file schema, only the
	// SURROGATE_POLICY env var; callers pass it to safetext.SetPolicy.
	SurrogatePolicy safetext.Policy `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the configuration Load starts from before a
// file or environment overrides are applied.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxAttempts:        3,
			ToolTimeoutSeconds: 30,
			MaxContextEntries:  20,
			Interpret:          true,
		},
		UI: UIConfig{
			Mode: "repl",
		},
		SurrogatePolicy: safetext.PolicyReplace,
	}
}

// WriteDefault marshals DefaultConfig (plus one example tool server, so
// the file isn't an empty shell) to path as YAML, refusing to overwrite
// an existing file. It's the "agentrt config" entry point.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}

	cfg := DefaultConfig()
	cfg.Connection.Servers = []connmgr.ServerConfig{
		{
			Name:    "arith",
			Command: "demo-arith-mcp",
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Load builds a Config starting from DefaultConfig, merging in a YAML
// file at path (skipped entirely when path is empty), then applying
// environment variable overrides (LLM_API_KEY, LLM_PROVIDER, LLM_MODEL,
// SURROGATE_POLICY). A missing, malformed or unreadable file is a
// config-kind error that aborts startup; an empty path is not itself
// an error since most deployments run on env vars plus defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
			dc.ErrorUnused = true
		}); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyDefaults seeds v with cfg's zero-config values so a partial
// file only needs to name the sections it wants to change.
func applyDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("agent.max_attempts", cfg.Agent.MaxAttempts)
	v.SetDefault("agent.tool_timeout_seconds", cfg.Agent.ToolTimeoutSeconds)
	v.SetDefault("agent.max_context_entries", cfg.Agent.MaxContextEntries)
	v.SetDefault("agent.interpret", cfg.Agent.Interpret)
	v.SetDefault("ui.mode", cfg.UI.Mode)
}

// applyEnvOverrides applies the runtime's recognized environment variables.
func applyEnvOverrides(cfg *Config) {
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	switch strings.ToLower(os.Getenv("SURROGATE_POLICY")) {
	case "ignore":
		cfg.SurrogatePolicy = safetext.PolicyIgnore
	case "escape":
		cfg.SurrogatePolicy = safetext.PolicyEscape
	default:
		cfg.SurrogatePolicy = safetext.PolicyReplace
	}
}

// MockMode reports whether the provider is explicitly "mock", which
// exempts the runtime from requiring LLM_API_KEY at startup.
func (c Config) MockMode() bool {
	return strings.EqualFold(c.LLM.Provider, "mock")
}

// Validate checks the invariants Load cannot express through viper
// defaults alone: an LLM provider must be chosen, an API key must be
// present unless running in mock mode, and at least one tool server
// must be configured.
func (c Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("config: llm.provider is required")
	}
	if c.LLM.APIKey == "" && !c.MockMode() {
		return fmt.Errorf("config: LLM_API_KEY is required unless llm.provider is \"mock\"")
	}
	if len(c.Connection.Servers) == 0 {
		return fmt.Errorf("config: connection.servers must list at least one tool server")
	}
	for _, s := range c.Connection.Servers {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("config: connection.servers entries require name and command")
		}
	}
	return nil
}
