package llmclient

import "strings"

// Model describes one callable model and which parameter family it
// belongs to ("reasoning" vs classic).
type Model struct {
	ID                string
	Name              string
	ProviderID        string
	ContextLength     int
	MaxOutputTokens   int
	SupportsReasoning bool
}

// reasoningPrefixes identifies the "reasoning" model family by name
// prefix, mirroring teacher's SupportsReasoning flag on openAIModels()
// and anthropicModels() (o1, o3, gpt-5 use max_completion_tokens +
// reasoning_effort + fixed temperature; claude-opus-4 reasons too).
var reasoningPrefixes = []string{"o1", "o3", "gpt-5"}

// IsReasoningModel reports whether modelID belongs to the reasoning
// family purely from its name, independent of any Model table lookup —
// used when a model id isn't in the static table (custom deployments).
func IsReasoningModel(modelID string) bool {
	for _, prefix := range reasoningPrefixes {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}

func anthropicModels() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 64000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 32000, SupportsReasoning: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 8192},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 8192},
	}
}

func openAIModels() []Model {
	return []Model{
		{ID: "gpt-5", Name: "GPT-5", ProviderID: "openai", ContextLength: 272000, MaxOutputTokens: 128000, SupportsReasoning: true},
		{ID: "gpt-5-mini", Name: "GPT-5 Mini", ProviderID: "openai", ContextLength: 272000, MaxOutputTokens: 128000, SupportsReasoning: true},
		{ID: "gpt-4o", Name: "GPT-4o", ProviderID: "openai", ContextLength: 128000, MaxOutputTokens: 16384},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ProviderID: "openai", ContextLength: 128000, MaxOutputTokens: 16384},
		{ID: "o1", Name: "O1", ProviderID: "openai", ContextLength: 200000, MaxOutputTokens: 100000, SupportsReasoning: true},
		{ID: "o1-mini", Name: "O1 Mini", ProviderID: "openai", ContextLength: 128000, MaxOutputTokens: 65536, SupportsReasoning: true},
	}
}
