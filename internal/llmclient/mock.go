package llmclient

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider returns deterministic canned plans keyed by substring
// match of the last user message, for offline demos and tests.
type MockProvider struct {
	// Responses maps a lowercase substring to the text returned when
	// the prompt contains it. Checked in insertion order; Patterns
	// preserves that order since map iteration isn't deterministic.
	Patterns  []string
	Responses map[string]string
	Default   string
}

// NewMockProvider builds a MockProvider with a fallback default
// response used when no pattern matches.
func NewMockProvider(defaultResponse string) *MockProvider {
	return &MockProvider{Responses: make(map[string]string), Default: defaultResponse}
}

// When registers a substring -> response mapping, evaluated in the
// order registered.
func (m *MockProvider) When(substring, response string) *MockProvider {
	m.Patterns = append(m.Patterns, substring)
	m.Responses[substring] = response
	return m
}

func (m *MockProvider) ID() string { return "mock" }
func (m *MockProvider) Model() Model {
	return Model{ID: "mock", Name: "Mock", ProviderID: "mock"}
}

// Complete matches the last message's text against registered patterns
// and returns the first hit, or Default.
func (m *MockProvider) Complete(_ context.Context, messages []Message, _ CompleteOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("llmclient: mock provider received no messages")
	}
	last := strings.ToLower(messages[len(messages)-1].Text)

	for _, pattern := range m.Patterns {
		if strings.Contains(last, strings.ToLower(pattern)) {
			return m.Responses[pattern], nil
		}
	}
	return m.Default, nil
}
