// File: internal/usecase/analysis_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/metrics"
)

// Compile-time check
var _ AnalysisUseCase = (*analysisUC)(nil)

type AnalyzeRequest struct {
	Provider     string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Credential   string
}

// AnalysisOutcome is a schema-valid result plus what the repair step noticed.
type AnalysisOutcome struct {
	Result   model.AnalysisResult
	Warnings []string
	Fallback bool
	Usage    adapter.Usage
}

type AnalysisUseCase interface {
	// Analyze calls the provider and repairs its reply. Unparseable replies
	// yield a fallback result, never an error.
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisOutcome, error)
}

type analysisUC struct {
	providers       adapter.ProviderRegistry
	timeout         time.Duration
	maxOutputTokens int
	log             *zerolog.Logger
}

func NewAnalysisUseCase(providers adapter.ProviderRegistry, timeout time.Duration, maxOutputTokens int, logger *zerolog.Logger) *analysisUC {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	l := logger.With().Str("component", "analysis").Logger()
	return &analysisUC{providers: providers, timeout: timeout, maxOutputTokens: maxOutputTokens, log: &l}
}

func (u *analysisUC) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisOutcome, error) {
	client, err := u.providers.Lookup(req.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	start := time.Now()
	out, err := client.Generate(callCtx, adapter.GenerateRequest{
		Model:           req.Model,
		SystemPrompt:    req.SystemPrompt,
		UserPrompt:      req.UserPrompt,
		Credential:      req.Credential,
		MaxOutputTokens: u.maxOutputTokens,
	})
	latency := time.Since(start)
	if errors.Is(err, domain.ErrMalformedResponse) {
		// the call succeeded but carried nothing usable
		metrics.ObserveAICall(req.Provider, req.Model, 0, 0, latency, true)
		return u.fallback(req, err, out.Usage), nil
	}
	if err != nil {
		err = classifyCallError(callCtx, err)
		metrics.ObserveAICall(req.Provider, req.Model, 0, 0, latency, false)
		metrics.IncAIError(req.Provider, errorKind(err))
		return nil, err
	}
	metrics.ObserveAICall(req.Provider, req.Model, out.Usage.PromptTokens, out.Usage.CompletionTokens, latency, true)

	res, warnings, perr := ParseAnalysis(out.Text)
	if perr != nil {
		return u.fallback(req, perr, out.Usage), nil
	}
	if len(warnings) > 0 {
		u.log.Warn().Strs("warnings", warnings).Str("provider", req.Provider).Msg("analysis result incomplete")
	}
	return &AnalysisOutcome{Result: res, Warnings: warnings, Usage: out.Usage}, nil
}

func (u *analysisUC) fallback(req AnalyzeRequest, cause error, usage adapter.Usage) *AnalysisOutcome {
	metrics.IncFallbackResult(req.Provider)
	u.log.Warn().Err(cause).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Msg("unusable reply, storing fallback result")
	return &AnalysisOutcome{Result: FallbackResult(cause.Error()), Fallback: true, Usage: usage}
}

// classifyCallError maps deadline errors that the provider did not classify.
func classifyCallError(ctx context.Context, err error) error {
	if isClassified(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrProviderTimeout, err)
	}
	return err
}

func isClassified(err error) bool {
	return errors.Is(err, domain.ErrProviderTimeout) ||
		errors.Is(err, domain.ErrProviderAuth) ||
		errors.Is(err, domain.ErrProviderRateLimit) ||
		errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, domain.ErrUnsupportedProvider)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderAuth):
		return "auth"
	case errors.Is(err, domain.ErrProviderRateLimit):
		return "rate_limit"
	case errors.Is(err, domain.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
