// Package llmclient implements the LLM client: a single
// complete(messages, options) -> text entry point that normalizes
// parameter differences across reasoning and classic model families,
// retries transient provider errors with jittered backoff, and can run
// in a deterministic mock mode for offline demos and tests.
package llmclient

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Message is one chat turn passed to Complete.
type Message struct {
	Role schema.RoleType
	Text string
}

// CompleteOptions tunes one Complete call; Temperature is ignored for
// reasoning-family models, which always sample at a fixed temperature.
type CompleteOptions struct {
	MaxTokens      int
	Temperature    float64
	ReasoningEffort string
}

// Provider is one concrete LLM backend (Anthropic, OpenAI, or mock).
type Provider interface {
	ID() string
	Model() Model
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error)
}

func toEinoMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, &schema.Message{Role: m.Role, Content: m.Text})
	}
	return out
}
