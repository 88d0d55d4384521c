package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/mcpagent/agentrt/internal/catalog"
	"github.com/mcpagent/agentrt/internal/config"
	"github.com/mcpagent/agentrt/internal/connmgr"
	"github.com/mcpagent/agentrt/internal/exec"
	"github.com/mcpagent/agentrt/internal/llmclient"
	"github.com/mcpagent/agentrt/internal/logging"
	"github.com/mcpagent/agentrt/internal/orchestrator"
	"github.com/mcpagent/agentrt/internal/safetext"
	"github.com/mcpagent/agentrt/internal/store"
	"github.com/mcpagent/agentrt/internal/task"
	"github.com/mcpagent/agentrt/internal/taskevents"
)

// runtime is what boot hands back to a command: an Orchestrator ready
// to take requests, with orch.Close releasing every collaborator it
// owns (connection manager, event bus, session archival).
type runtime struct {
	orch *orchestrator.Orchestrator
}

// boot loads configuration, connects every configured tool server, and
// assembles an Orchestrator for sessionID. Any failure here is a
// startup failure (configuration/connection class, exit code 1).
func boot(ctx context.Context, sessionID string) (*runtime, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, configErr(fmt.Errorf("agentrt: create runtime directories: %w", err))
	}

	path := configPath
	if path == "" {
		if _, statErr := os.Stat(paths.DefaultConfigPath()); statErr == nil {
			path = paths.DefaultConfigPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configErr(fmt.Errorf("agentrt: load config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErr(fmt.Errorf("agentrt: invalid config: %w", err))
	}
	safetext.SetPolicy(cfg.SurrogatePolicy)

	log := logging.Component("agentrt")

	st := store.New(paths.StoragePath(), sessionID)
	if _, err := st.Initialize(); err != nil {
		return nil, configErr(fmt.Errorf("agentrt: initialize session store: %w", err))
	}

	bus := taskevents.New()
	manager := connmgr.New(log)
	cat := catalog.New(log)

	for _, serverCfg := range cfg.Connection.Servers {
		descriptors, err := manager.Connect(ctx, serverCfg)
		if err != nil {
			manager.Close()
			return nil, configErr(fmt.Errorf("agentrt: connect tool server %q: %w", serverCfg.Name, err))
		}
		cat.Register(descriptors)
	}

	llm, err := buildLLMClient(ctx, *cfg, log)
	if err != nil {
		manager.Close()
		return nil, configErr(fmt.Errorf("agentrt: build LLM client: %w", err))
	}

	tasks := task.NewManager(st, bus, cat.ParamSpecs)
	engine := exec.New(st, bus, manager, cat, llm, cfg.Agent.MaxAttempts, cfg.Agent.ToolTimeout(), log)

	var customInstructions string
	if cfg.Agent.CustomInstructionsPath != "" {
		customInstructions, _ = readInstructions(cfg.Agent.CustomInstructionsPath)
	}

	orch := orchestrator.New(st, bus, manager, cat, tasks, engine, llm, orchestrator.Config{
		CustomInstructions: customInstructions,
		MaxContextEntries:  cfg.Agent.MaxContextEntries,
		Interpret:          cfg.Agent.Interpret,
	}, log)

	return &runtime{orch: orch}, nil
}

func buildLLMClient(ctx context.Context, cfg config.Config, log zerolog.Logger) (*llmclient.Client, error) {
	if cfg.MockMode() {
		return llmclient.New(llmclient.NewMockProvider("Done."), log), nil
	}

	switch cfg.LLM.Provider {
	case "anthropic":
		p, err := llmclient.NewAnthropicProvider(ctx, llmclient.AnthropicConfig{
			APIKey:    cfg.LLM.APIKey,
			ModelID:   cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return llmclient.New(p, log), nil
	case "openai":
		p, err := llmclient.NewOpenAIProvider(ctx, llmclient.OpenAIConfig{
			APIKey:    cfg.LLM.APIKey,
			ModelID:   cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return llmclient.New(p, log), nil
	default:
		return nil, fmt.Errorf("unsupported llm.provider %q", cfg.LLM.Provider)
	}
}

func readInstructions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
