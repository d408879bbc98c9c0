package ai

import (
	"context"

	"conversation-analysis/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ProviderClient = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.ProviderClient
	sem   chan struct{}
}

// NewLimited caps concurrent Generate calls. Limiters can be shared across
// providers by passing the same sem to NewLimitedShared.
func NewLimited(inner adapter.ProviderClient, maxConcurrent int) adapter.ProviderClient {
	if maxConcurrent <= 0 {
		return inner
	}
	return NewLimitedShared(inner, make(chan struct{}, maxConcurrent))
}

func NewLimitedShared(inner adapter.ProviderClient, sem chan struct{}) adapter.ProviderClient {
	return &limitedAI{inner: inner, sem: sem}
}

func (l *limitedAI) Name() string { return l.inner.Name() }

func (l *limitedAI) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.Completion{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, req)
}
