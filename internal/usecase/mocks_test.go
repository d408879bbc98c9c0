// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"sync"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/db/memory"
)

var errStoreDown = errors.New("connection refused")

// failingErrorRepo always fails, to prove logging never propagates errors.
type failingErrorRepo struct{}

func (failingErrorRepo) Upsert(ctx context.Context, ev *model.ErrorEvent) (*model.ErrorEvent, error) {
	return nil, errStoreDown
}
func (failingErrorRepo) ListUnresolved(ctx context.Context, limit int) ([]*model.ErrorEvent, error) {
	return nil, errStoreDown
}
func (failingErrorRepo) Resolve(ctx context.Context, id, resolvedBy, resolution string) error {
	return errStoreDown
}

type failingActivityRepo struct{}

func (failingActivityRepo) Append(ctx context.Context, ev *model.ActivityEvent) error {
	return errStoreDown
}

// brokenJobRepo fails Create and delegates everything else.
type brokenJobRepo struct {
	*memory.JobRepo
}

func (brokenJobRepo) Create(ctx context.Context, job *model.Job) error { return errStoreDown }

// stubProvider returns canned text or an error and records requests.
type stubProvider struct {
	name string
	text string
	err  error

	mu   sync.Mutex
	reqs []adapter.GenerateRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.err != nil {
		return adapter.Completion{}, s.err
	}
	return adapter.Completion{Text: s.text, Usage: adapter.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (s *stubProvider) last() adapter.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

// recordingScheduler captures submitted jobs.
type recordingScheduler struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (s *recordingScheduler) Name() string                  { return "recording" }
func (s *recordingScheduler) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (s *recordingScheduler) Submit(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, job.ID)
	return s.err
}

// stubRegistry maps provider ids to clients.
type stubRegistry map[string]adapter.ProviderClient

func (r stubRegistry) Lookup(id string) (adapter.ProviderClient, error) {
	c, ok := r[id]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return c, nil
}

func (r stubRegistry) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	return out
}

// blockingProvider waits for the context to end.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "slow" }
func (blockingProvider) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	<-ctx.Done()
	return adapter.Completion{}, ctx.Err()
}
