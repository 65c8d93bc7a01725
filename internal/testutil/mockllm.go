// Package testutil provides deterministic test doubles for the AI
// boundary: a pattern-matching mock LLM, a hash-based embedder and a
// quiet logger. Nothing here touches the network.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic generation responses for testing.
// It matches prompts against registered substrings and returns the
// corresponding response or injected error. First match wins; the
// fallback is returned when nothing matches.
//
// Safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    []string
}

type mockRule struct {
	pattern  string // lowercase substring match
	response string
	err      error
}

// NewMockLLM creates a mock with the given fallback response.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. Matching is
// case-insensitive substring containment, checked in registration order.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), response: response})
}

// FailWith registers a pattern that triggers the given error, for
// exercising unavailable and refusal paths.
func (m *MockLLM) FailWith(pattern string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), err: err})
}

// Calls returns a copy of every prompt seen so far.
func (m *MockLLM) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls, keeping registered rules.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Generate implements the generation client interface consumed by the
// orchestrator and the model-backed entity extractor.
func (m *MockLLM) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, prompt)

	lower := strings.ToLower(prompt)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			return rule.response, rule.err
		}
	}
	return m.fallback, nil
}

// RegisterModel registers the mock as a Genkit model named
// "mock/test-model", for tests that drive the real genkit.Generate path.
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generateModel)
}

func (m *MockLLM) generateModel(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	text, err := m.Generate(context.Background(), userText)
	if err != nil {
		return nil, err
	}
	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(text)},
		},
	}, nil
}
