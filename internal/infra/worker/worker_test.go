//go:build !integration

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/adapters/ai"
	"conversation-analysis/internal/infra/db/memory"
	"conversation-analysis/internal/infra/security"
	"conversation-analysis/internal/usecase"
)

// scriptedProvider answers with replies in order and repeats the last one.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

type reply struct {
	text  string
	err   error
	panic bool
}

func (s *scriptedProvider) Name() string { return "openai" }

func (s *scriptedProvider) Generate(_ context.Context, _ adapter.GenerateRequest) (adapter.Completion, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	s.calls++
	r := s.replies[i]
	s.mu.Unlock()
	if r.panic {
		panic("provider exploded")
	}
	return adapter.Completion{Text: r.text}, r.err
}

func (s *scriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

const goodReply = "Sure! ```json\n{\"detectedLanguage\":\"English\",\"overallSummary\":\"ok\",\"insights\":[]}\n```"

type fixture struct {
	jobs     *memory.JobRepo
	errs     *memory.ErrorEventRepo
	provider *scriptedProvider
	cipher   *security.EncryptionService
	proc     *Processor
	errlog   usecase.ErrorLogUseCase
	logger   zerolog.Logger
}

func newFixture(t *testing.T, replies ...reply) *fixture {
	t.Helper()
	f := &fixture{
		jobs:     memory.NewJobRepo(),
		errs:     memory.NewErrorEventRepo(),
		provider: &scriptedProvider{replies: replies},
		logger:   zerolog.Nop(),
	}
	var err error
	f.cipher, err = security.NewEncryptionService("0123456789abcdef")
	require.NoError(t, err)

	f.errlog = usecase.NewErrorLogUseCase(f.errs, memory.NewActivityRepo(), &f.logger)
	t.Cleanup(f.errlog.Wait)
	prompts := usecase.NewPromptBuilder(nil, nil, 0, &f.logger)
	analysis := usecase.NewAnalysisUseCase(ai.NewRegistry(f.provider), time.Second, 0, &f.logger)
	f.proc = NewProcessor(f.jobs, f.cipher, prompts, analysis, f.errlog, &f.logger)
	return f
}

func (f *fixture) createJob(t *testing.T, id string) *model.Job {
	t.Helper()
	sealed, err := f.cipher.Encrypt("sk-test")
	require.NoError(t, err)
	j := model.NewJob(id, "u1", usecase.DefaultTemplateID, "gpt-4o-mini", "openai", "chat.txt", "alice: hi\nbob: hey", sealed)
	require.NoError(t, f.jobs.Create(context.Background(), j))
	return j
}

func (f *fixture) job(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (f *fixture) poller(attempts int, delay time.Duration) *Poller {
	return NewPoller(f.jobs, f.proc, config.WorkerConfig{
		MaxConcurrentJobs: 2,
		RetryAttempts:     attempts,
		RetryDelay:        delay,
		PollInterval:      10 * time.Millisecond,
	}, &f.logger)
}

func (p *Poller) tickAndWait(ctx context.Context) int {
	n := p.tick(ctx, ctx)
	p.tasks.Wait()
	return n
}

func TestPoller_CompletesFencedReply(t *testing.T) {
	f := newFixture(t, reply{text: goodReply})
	f.createJob(t, "job-1")
	p := f.poller(3, time.Millisecond)

	assert.Equal(t, 1, p.tickAndWait(context.Background()))

	j := f.job(t, "job-1")
	assert.Equal(t, model.JobStatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, model.StepCompleted, j.CurrentStep)
	assert.NotNil(t, j.CompletedAt)

	var res map[string]any
	require.NoError(t, json.Unmarshal(j.Result, &res))
	assert.Equal(t, "English", res["detectedLanguage"])
	assert.Equal(t, []any{}, res["insights"])
}

func TestPoller_EmptyReplyCompletesWithFallback(t *testing.T) {
	f := newFixture(t, reply{err: fmt.Errorf("openai: no choice content: %w", domain.ErrMalformedResponse)})
	f.createJob(t, "job-1")
	p := f.poller(3, time.Millisecond)

	assert.Equal(t, 1, p.tickAndWait(context.Background()))

	j := f.job(t, "job-1")
	assert.Equal(t, model.JobStatusCompleted, j.Status)
	assert.Equal(t, 0, j.RetryCount)
	assert.Nil(t, j.Error)
	assert.Equal(t, 1, f.provider.Calls())

	var res map[string]any
	require.NoError(t, json.Unmarshal(j.Result, &res))
	assert.Equal(t, true, res["parsingIssue"])
}

func TestPoller_TimeoutsExhaustRetries(t *testing.T) {
	timeout := fmt.Errorf("openai: %w", domain.ErrProviderTimeout)
	f := newFixture(t, reply{err: timeout})
	f.createJob(t, "job-1")
	p := f.poller(3, time.Millisecond)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		p.tickAndWait(ctx)
		j := f.job(t, "job-1")
		return j.Status == model.JobStatusFailed && j.RetryCount == 3
	}, 5*time.Second, 10*time.Millisecond)

	// a spent job is not picked up again
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, p.tickAndWait(ctx))

	j := f.job(t, "job-1")
	require.NotNil(t, j.Error)
	assert.Contains(t, *j.Error, "after 3 attempts")
	assert.Equal(t, 3, f.provider.Calls())

	f.errlog.Wait()
	events := f.errs.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ErrorCategoryAIProvider, events[0].Category)
	assert.Equal(t, model.SeverityHigh, events[0].Severity)
}

func TestPoller_CancelledPendingJobIsSkipped(t *testing.T) {
	f := newFixture(t, reply{text: goodReply})
	f.createJob(t, "job-1")
	require.NoError(t, f.jobs.Cancel(context.Background(), "job-1", "u1"))

	p := f.poller(3, time.Millisecond)
	assert.Zero(t, p.tickAndWait(context.Background()))
	assert.Equal(t, model.JobStatusCancelled, f.job(t, "job-1").Status)
	assert.Zero(t, f.provider.Calls())
}

func TestPoller_NonRetryableFailsAtOnce(t *testing.T) {
	f := newFixture(t, reply{err: fmt.Errorf("openai: %w", domain.ErrProviderAuth)})
	f.createJob(t, "job-1")
	p := f.poller(3, time.Millisecond)

	p.tickAndWait(context.Background())
	time.Sleep(10 * time.Millisecond)
	p.tickAndWait(context.Background())

	j := f.job(t, "job-1")
	assert.Equal(t, model.JobStatusFailed, j.Status)
	assert.Equal(t, 1, j.RetryCount)
	require.NotNil(t, j.Error)
	assert.Equal(t, domain.UserMessage(domain.ErrProviderAuth), *j.Error)
	assert.Equal(t, 1, f.provider.Calls())
}

func TestPoller_PanicIsRecovered(t *testing.T) {
	f := newFixture(t, reply{panic: true})
	f.createJob(t, "job-1")
	p := f.poller(1, time.Millisecond)

	p.tickAndWait(context.Background())

	j := f.job(t, "job-1")
	assert.Equal(t, model.JobStatusFailed, j.Status)
	assert.Zero(t, p.tasks.Len(), "hold released after panic")
}

func TestPoller_ShutdownFlushesRetries(t *testing.T) {
	f := newFixture(t, reply{err: fmt.Errorf("openai: %w", domain.ErrProviderUnavailable)})
	f.createJob(t, "job-1")
	p := f.poller(3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		j := f.job(t, "job-1")
		return j.Status == model.JobStatusFailed && j.RetryCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, model.JobStatusPending, f.job(t, "job-1").Status)
}

func TestPoller_SubmitIsNoop(t *testing.T) {
	f := newFixture(t, reply{text: goodReply})
	p := f.poller(3, time.Millisecond)
	assert.NoError(t, p.Submit(context.Background(), &model.Job{ID: "x"}))
	assert.Equal(t, config.SchedulerModePoller, p.Name())
}

func TestProcessor_UndecryptableCredential(t *testing.T) {
	f := newFixture(t, reply{text: goodReply})
	j := model.NewJob("job-1", "u1", "default", "m", "openai", "f", "c", "not-sealed")
	require.NoError(t, f.jobs.Create(context.Background(), j))
	_, err := f.jobs.MarkProcessing(context.Background(), "job-1")
	require.NoError(t, err)

	_, err = f.proc.Execute(context.Background(), j)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.False(t, domain.IsRetryable(err))
	assert.Zero(t, f.provider.Calls())
}

func TestFailureMessage(t *testing.T) {
	timeout := domain.ErrProviderTimeout
	assert.Equal(t, "Attempt 1 failed: "+domain.UserMessage(timeout), failureMessage(timeout, 1, true, false))
	assert.Equal(t, "Analysis failed after 3 attempts: "+domain.UserMessage(timeout), failureMessage(timeout, 3, true, true))
	assert.Equal(t, domain.UserMessage(domain.ErrProviderAuth), failureMessage(domain.ErrProviderAuth, 1, false, true))
}
