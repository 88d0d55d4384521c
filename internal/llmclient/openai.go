package llmclient

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// OpenAIProvider talks to OpenAI-family models over eino's openai
// connector, including the gpt-5/o1 reasoning family.
type OpenAIProvider struct {
	chatModel model.ToolCallingChatModel
	modelInfo Model
}

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	ModelID   string
	MaxTokens int
}

// NewOpenAIProvider builds an OpenAIProvider from cfg, falling back to
// OPENAI_API_KEY when APIKey is unset.
func NewOpenAIProvider(ctx context.Context, cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llmclient: OPENAI_API_KEY not set")
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "gpt-4o"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	info := lookupModel(openAIModels(), modelID, "openai")

	chatCfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelID,
	}
	if info.SupportsReasoning {
		// GPT-5/o1 family rejects max_tokens; max_completion_tokens is
		// the replacement field across the reasoning family.
		chatCfg.MaxCompletionTokens = &maxTokens
	} else {
		chatCfg.MaxTokens = &maxTokens
	}
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, fmt.Errorf("llmclient: create openai model: %w", err)
	}

	return &OpenAIProvider{chatModel: chatModel, modelInfo: info}, nil
}

func (p *OpenAIProvider) ID() string   { return "openai" }
func (p *OpenAIProvider) Model() Model { return p.modelInfo }

// Complete runs one completion, branching on the reasoning/classic
// parameter families: reasoning models use
// max_completion_tokens + reasoning_effort + fixed temperature 1.0;
// classic models use max_tokens + caller temperature.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	einoMsgs := toEinoMessages(messages)

	var callOpts []model.Option
	if p.modelInfo.SupportsReasoning {
		callOpts = append(callOpts, openai.WithMaxCompletionTokens(opts.MaxTokens), model.WithTemperature(1.0))
		if opts.ReasoningEffort != "" {
			callOpts = append(callOpts, openai.WithReasoningEffort(openai.ReasoningEffortLevel(opts.ReasoningEffort)))
		}
	} else {
		callOpts = append(callOpts, model.WithMaxTokens(opts.MaxTokens))
		if opts.Temperature > 0 {
			callOpts = append(callOpts, model.WithTemperature(float32(opts.Temperature)))
		}
	}

	msg, err := p.chatModel.Generate(ctx, einoMsgs, callOpts...)
	if err != nil {
		return "", fmt.Errorf("llmclient: openai generate: %w", err)
	}
	return msg.Content, nil
}

func lookupModel(table []Model, id, providerID string) Model {
	for _, m := range table {
		if m.ID == id {
			return m
		}
	}
	return Model{ID: id, ProviderID: providerID, SupportsReasoning: IsReasoningModel(id)}
}
