// File: internal/infra/worker/processor.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/usecase"
)

const (
	progressPreparing  = 25
	progressAnalyzing  = 50
	progressValidating = 75
)

// Processor runs the analysis steps of a claimed job. Both schedulers share it;
// they differ only in how jobs are claimed and how retries are timed.
type Processor struct {
	jobs     repository.JobRepository
	cipher   adapter.CredentialCipher
	prompts  *usecase.PromptBuilder
	analysis usecase.AnalysisUseCase
	errlog   usecase.ErrorLogUseCase
	log      *zerolog.Logger
}

func NewProcessor(
	jobs repository.JobRepository,
	cipher adapter.CredentialCipher,
	prompts *usecase.PromptBuilder,
	analysis usecase.AnalysisUseCase,
	errlog usecase.ErrorLogUseCase,
	logger *zerolog.Logger,
) *Processor {
	l := logger.With().Str("component", "processor").Logger()
	return &Processor{
		jobs:     jobs,
		cipher:   cipher,
		prompts:  prompts,
		analysis: analysis,
		errlog:   errlog,
		log:      &l,
	}
}

// Execute takes a PROCESSING job to COMPLETED. It returns (false, nil) when the
// job was cancelled while running; the row is then left alone.
func (p *Processor) Execute(ctx context.Context, job *model.Job) (completed bool, err error) {
	log := logging.ForJob(p.log, job)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic while processing job")
			completed, err = false, fmt.Errorf("processing panicked: %v", r)
		}
	}()
	start := time.Now()

	if err := p.jobs.UpdateProgress(ctx, job.ID, progressPreparing, model.StepPreparing); err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	credential, err := p.cipher.Decrypt(job.APIKey)
	if err != nil {
		return false, fmt.Errorf("%w: open provider credential: %v", domain.ErrInvalidArgument, err)
	}
	prompt, err := p.prompts.Build(job.TemplateID, job.ModelID, job.FileName, job.FileContent)
	if err != nil {
		return false, err
	}
	if prompt.Truncated {
		log.Warn().Int("input_tokens", prompt.InputTokens).Msg("file content truncated to token budget")
	}

	if !p.stillProcessing(ctx, job.ID) {
		log.Info().Msg("job left processing before the provider call")
		return false, nil
	}
	if err := p.jobs.UpdateProgress(ctx, job.ID, progressAnalyzing, model.StepAnalyzing); err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	out, err := p.analysis.Analyze(ctx, usecase.AnalyzeRequest{
		Provider:     job.Provider,
		Model:        job.ModelID,
		SystemPrompt: prompt.System,
		UserPrompt:   prompt.User,
		Credential:   credential,
	})
	if err != nil {
		return false, err
	}

	if err := p.jobs.UpdateProgress(ctx, job.ID, progressValidating, model.StepValidating); err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	raw, err := json.Marshal(out.Result)
	if err != nil {
		return false, fmt.Errorf("%w: encode result: %v", domain.ErrMalformedResponse, err)
	}
	ok, err := p.jobs.MarkCompleted(ctx, job.ID, raw)
	if err != nil {
		return false, fmt.Errorf("save result: %w", err)
	}
	if !ok {
		log.Info().Msg("job cancelled while running, result discarded")
		return false, nil
	}

	log.Info().
		Dur("took", time.Since(start)).
		Bool("fallback", out.Fallback).
		Int("tokens_in", out.Usage.PromptTokens).
		Int("tokens_out", out.Usage.CompletionTokens).
		Msg("job completed")
	return true, nil
}

// stillProcessing is best effort; a store error lets the job go on.
func (p *Processor) stillProcessing(ctx context.Context, id string) bool {
	j, err := p.jobs.FindByID(ctx, id)
	if err != nil {
		return true
	}
	return j.Status == model.JobStatusProcessing
}

// Failure is what RecordFailure decided for one failed attempt.
type Failure struct {
	RetryCount int
	Retryable  bool
	Final      bool
	Message    string
}

// RecordFailure marks the job FAILED with a message suited to the attempt
// number. attempt is job.RetryCount+1, so job must carry the current count.
// It returns domain.ErrNotFound when the job already left PROCESSING.
func (p *Processor) RecordFailure(ctx context.Context, job *model.Job, cause error, maxAttempts int) (Failure, error) {
	ctx = context.WithoutCancel(ctx)
	attempt := job.RetryCount + 1
	f := Failure{Retryable: domain.IsRetryable(cause)}
	f.Final = !f.Retryable || attempt >= maxAttempts
	f.Message = failureMessage(cause, attempt, f.Retryable, f.Final)

	count, err := p.jobs.MarkFailed(ctx, job.ID, f.Message)
	if err != nil {
		return f, err
	}
	f.RetryCount = count
	f.Final = f.Final || count >= maxAttempts

	log := logging.ForJob(p.log, job)
	if !f.Final {
		log.Warn().Err(cause).Int("attempt", count).Msg("job attempt failed, will retry")
		return f, nil
	}
	log.Error().Err(cause).Int("attempts", count).Bool("retryable", f.Retryable).Msg("job failed")

	category, severity := model.ErrorCategoryAIProvider, model.SeverityHigh
	switch {
	case errors.Is(cause, domain.ErrUnsupportedProvider):
		category = model.ErrorCategorySystem
	case errors.Is(cause, domain.ErrPersistence):
		category = model.ErrorCategoryDatabase
	}
	p.errlog.LogError(ctx, usecase.ErrorReport{
		Category:   category,
		Severity:   severity,
		Message:    "analysis job failed: " + cause.Error(),
		UserID:     job.UserID,
		AIProvider: job.Provider,
		ModelID:    job.ModelID,
		RequestData: map[string]any{
			"jobId":    job.ID,
			"attempts": count,
		},
	})
	return f, nil
}

func failureMessage(cause error, attempt int, retryable, final bool) string {
	msg := domain.UserMessage(cause)
	switch {
	case !retryable:
		return msg
	case final:
		return fmt.Sprintf("Analysis failed after %d attempts: %s", attempt, msg)
	default:
		return fmt.Sprintf("Attempt %d failed: %s", attempt, msg)
	}
}
