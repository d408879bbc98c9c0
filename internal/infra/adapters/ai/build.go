package ai

import (
	"time"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain/ports/adapter"
)

// NewRegistryFromConfig registers every built-in provider plus the configured
// gateways, all sharing one concurrency limit.
func NewRegistryFromConfig(cfg config.AIConfig, dev bool) (*Registry, error) {
	r := NewRegistry(
		NewOpenAIAdapter(cfg.OpenAIBaseURL),
		NewGeminiAdapter(cfg.GeminiBaseURL),
		NewAnthropicAdapter(cfg.AnthropicURL),
	)
	r.Alias("gemini", "google")
	r.Alias("claude", "anthropic")

	for _, gw := range cfg.Gateways {
		c, err := NewGatewayAdapter(gw.Name, gw.BaseURL)
		if err != nil {
			return nil, err
		}
		r.Register(c)
	}
	if dev {
		r.Register(NewMockProvider(300 * time.Millisecond))
	}

	if cfg.ConcurrentLimit > 0 {
		sem := make(chan struct{}, cfg.ConcurrentLimit)
		r.Wrap(func(c adapter.ProviderClient) adapter.ProviderClient {
			return NewLimitedShared(c, sem)
		})
	}
	return r, nil
}
