package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/adapter"
)

var _ adapter.ProviderClient = (*MockProvider)(nil)

// MockProvider is a dev-only provider that never leaves the process.
// Special model ids trigger failures:
//
//	mock-timeout      -> ErrProviderTimeout
//	mock-auth         -> ErrProviderAuth
//	mock-garbage      -> unparseable text (fallback result)
type MockProvider struct {
	delay time.Duration
}

func NewMockProvider(delay time.Duration) *MockProvider {
	return &MockProvider{delay: delay}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	// Simulate processing time and respect ctx
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return adapter.Completion{}, fmt.Errorf("mock: %v: %w", ctx.Err(), domain.ErrProviderTimeout)
	}

	switch req.Model {
	case "mock-timeout":
		return adapter.Completion{}, fmt.Errorf("mock: simulated: %w", domain.ErrProviderTimeout)
	case "mock-auth":
		return adapter.Completion{}, fmt.Errorf("mock: simulated: %w", domain.ErrProviderAuth)
	case "mock-garbage":
		return adapter.Completion{Text: "I'm sorry, I can't produce JSON today."}, nil
	}

	lines := strings.Count(req.UserPrompt, "\n") + 1
	b, _ := json.Marshal(map[string]any{
		"detectedLanguage": "English",
		"overallSummary":   fmt.Sprintf("Mock analysis of %d lines.", lines),
		"insights": []map[string]any{
			{"type": "info", "title": "Mock insight", "description": "Generated without calling a real provider."},
		},
	})
	// Wrapped in a fence like real models tend to do.
	text := "```json\n" + string(b) + "\n```"
	return adapter.Completion{
		Text:  text,
		Usage: adapter.Usage{PromptTokens: len(req.UserPrompt) / 4, CompletionTokens: len(text) / 4, TotalTokens: (len(req.UserPrompt) + len(text)) / 4},
	}, nil
}
