package llmclient

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
)

// AnthropicProvider talks to Claude models over eino's claude connector.
type AnthropicProvider struct {
	chatModel model.ToolCallingChatModel
	modelInfo Model
}

// AnthropicConfig configures AnthropicProvider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	ModelID   string
	MaxTokens int
}

// NewAnthropicProvider builds an AnthropicProvider from cfg, falling
// back to ANTHROPIC_API_KEY when APIKey is unset.
func NewAnthropicProvider(ctx context.Context, cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llmclient: ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}

	claudeCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: cfg.MaxTokens,
	}
	if cfg.BaseURL != "" {
		claudeCfg.BaseURL = &cfg.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("llmclient: create claude model: %w", err)
	}

	info := lookupModel(anthropicModels(), modelID, "anthropic")
	return &AnthropicProvider{chatModel: chatModel, modelInfo: info}, nil
}

func (p *AnthropicProvider) ID() string   { return "anthropic" }
func (p *AnthropicProvider) Model() Model { return p.modelInfo }

// Complete runs one completion, branching on the reasoning/classic
// parameter families.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	einoMsgs := toEinoMessages(messages)

	var callOpts []model.Option
	if p.modelInfo.SupportsReasoning {
		callOpts = append(callOpts, model.WithTemperature(1.0))
	} else {
		callOpts = append(callOpts, model.WithTemperature(float32(opts.Temperature)))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, model.WithMaxTokens(opts.MaxTokens))
	}

	msg, err := p.chatModel.Generate(ctx, einoMsgs, callOpts...)
	if err != nil {
		return "", fmt.Errorf("llmclient: anthropic generate: %w", err)
	}
	return msg.Content, nil
}
