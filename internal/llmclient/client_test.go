package llmclient

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_MatchesFirstPattern(t *testing.T) {
	m := NewMockProvider(`{"tasks":[],"response":"ok"}`).
		When("weather", `{"tasks":[{"tool":"weather_lookup","params":{},"description":"check weather"}]}`).
		When("hello", `{"tasks":[],"response":"hi there"}`)

	text, err := m.Complete(context.Background(), []Message{{Role: schema.User, Text: "What's the weather today?"}}, CompleteOptions{})
	require.NoError(t, err)
	assert.Contains(t, text, "weather_lookup")
}

func TestMockProvider_FallsBackToDefault(t *testing.T) {
	m := NewMockProvider(`{"tasks":[],"response":"default"}`)
	text, err := m.Complete(context.Background(), []Message{{Role: schema.User, Text: "anything"}}, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"tasks":[],"response":"default"}`, text)
}

func TestMockProvider_NoMessagesErrors(t *testing.T) {
	m := NewMockProvider("default")
	_, err := m.Complete(context.Background(), nil, CompleteOptions{})
	assert.Error(t, err)
}

func TestIsReasoningModel(t *testing.T) {
	cases := map[string]bool{
		"gpt-5":                      true,
		"gpt-5-mini":                 true,
		"o1":                         true,
		"o1-mini":                    true,
		"o3-mini":                    true,
		"gpt-4o":                     false,
		"claude-sonnet-4-20250514":   false,
	}
	for id, want := range cases {
		assert.Equal(t, want, IsReasoningModel(id), "model %q", id)
	}
}

func TestClient_CompleteRetriesOnTransientError(t *testing.T) {
	attempts := 0
	provider := &flakyProvider{
		fn: func() (string, error) {
			attempts++
			if attempts < 2 {
				return "", fmt.Errorf("transient provider hiccup")
			}
			return "ok", nil
		},
	}

	client := New(provider, zerolog.Nop())
	text, err := client.Complete(context.Background(), []Message{{Role: schema.User, Text: "hi"}}, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, attempts)
}

type flakyProvider struct {
	fn func() (string, error)
}

func (f *flakyProvider) ID() string   { return "flaky" }
func (f *flakyProvider) Model() Model { return Model{ID: "flaky"} }
func (f *flakyProvider) Complete(context.Context, []Message, CompleteOptions) (string, error) {
	return f.fn()
}
