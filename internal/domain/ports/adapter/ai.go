package adapter

import "context"

// Usage for a single completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateRequest is a fully materialized prompt pair. Providers do no templating.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	// Credential is the caller's plaintext provider key for this request only.
	Credential      string
	MaxOutputTokens int
}

// Completion is the raw text returned by a provider.
type Completion struct {
	Text  string
	Usage Usage
}

// ProviderClient is the port every text-generation provider implements.
type ProviderClient interface {
	// Name returns the provider identifier (e.g. "openai", "google").
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (Completion, error)
}

// Tokenizer counts and trims prompt tokens for a model (best effort).
type Tokenizer interface {
	Truncate(model, text string, maxTokens int) (string, int, error)
}

// ProviderRegistry resolves provider ids to clients.
type ProviderRegistry interface {
	// Lookup returns domain.ErrUnsupportedProvider for unknown ids.
	Lookup(id string) (ProviderClient, error)
	Names() []string
}
