package llmclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	retryMaxAttempts     = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// Client is the public entry point:
// complete(messages, options) -> text, wrapping one Provider with
// jittered exponential retry on transient errors.
type Client struct {
	provider Provider
	log      zerolog.Logger
}

// New wraps provider with retry behavior.
func New(provider Provider, log zerolog.Logger) *Client {
	return &Client{provider: provider, log: log.With().Str("component", "llmclient").Logger()}
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts), ctx)
}

// Complete calls the underlying provider, retrying transient failures
// with jittered exponential backoff up to retryMaxAttempts times.
func (c *Client) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	bo := newRetryBackoff(ctx)

	var text string
	err := backoff.Retry(func() error {
		var err error
		text, err = c.provider.Complete(ctx, messages, opts)
		if err != nil {
			c.log.Warn().Err(err).Msg("llm completion failed, retrying")
		}
		return err
	}, bo)

	return text, err
}

// Model returns the active provider's model metadata.
func (c *Client) Model() Model { return c.provider.Model() }

// ProviderID returns the active provider's identifier.
func (c *Client) ProviderID() string { return c.provider.ID() }
