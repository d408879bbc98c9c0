// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
	ucport "conversation-analysis/internal/domain/ports/usecase"
	"conversation-analysis/internal/infra/logging"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxFileBytes     = 5 << 20
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

type CreateJobParams struct {
	UserID      string
	TemplateID  string
	ModelID     string
	Provider    string
	FileName    string
	FileContent string
	// APIKey is the caller's plaintext provider credential.
	APIKey string
}

// JobStatusView is the status page projection of a job.
type JobStatusView struct {
	ID          string          `json:"id"`
	Status      model.JobStatus `json:"status"`
	TemplateID  string          `json:"templateId"`
	ModelID     string          `json:"modelId"`
	Provider    string          `json:"provider"`
	FileName    string          `json:"fileName"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep"`
	TotalSteps  int             `json:"totalSteps"`
	RetryCount  int             `json:"retryCount"`
	Error       *string         `json:"error"`
	Result      json.RawMessage `json:"result,omitempty"`
	IsComplete  bool            `json:"isComplete"`
	// EstimatedTimeRemaining is in seconds, null when it cannot be computed.
	EstimatedTimeRemaining *float64   `json:"estimatedTimeRemaining"`
	CreatedAt              time.Time  `json:"createdAt"`
	StartedAt              *time.Time `json:"startedAt"`
	CompletedAt            *time.Time `json:"completedAt"`
}

type JobUseCase interface {
	CreateJob(ctx context.Context, p CreateJobParams) (string, error)
	GetJobStatus(ctx context.Context, jobID, ownerID string) (*JobStatusView, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]*model.JobSummary, error)
	CancelJob(ctx context.Context, jobID, ownerID string) error
}

type jobUC struct {
	jobs      repository.JobRepository
	cipher    adapter.CredentialCipher
	providers adapter.ProviderRegistry
	prompts   *PromptBuilder
	scheduler ucport.JobScheduler
	errlog    ErrorLogUseCase
	log       *zerolog.Logger
	now       func() time.Time
}

func NewJobUseCase(
	jobs repository.JobRepository,
	cipher adapter.CredentialCipher,
	providers adapter.ProviderRegistry,
	prompts *PromptBuilder,
	scheduler ucport.JobScheduler,
	errlog ErrorLogUseCase,
	logger *zerolog.Logger,
) *jobUC {
	l := logger.With().Str("component", "jobs").Logger()
	return &jobUC{
		jobs:      jobs,
		cipher:    cipher,
		providers: providers,
		prompts:   prompts,
		scheduler: scheduler,
		errlog:    errlog,
		log:       &l,
		now:       time.Now,
	}
}

func (u *jobUC) CreateJob(ctx context.Context, p CreateJobParams) (string, error) {
	if err := u.validate(&p); err != nil {
		return "", err
	}

	sealed, err := u.cipher.Encrypt(p.APIKey)
	if err != nil {
		return "", fmt.Errorf("seal credential: %w", err)
	}

	job := model.NewJob(uuid.NewString(), p.UserID, p.TemplateID, p.ModelID, p.Provider, p.FileName, p.FileContent, sealed)
	if err := u.jobs.Create(ctx, job); err != nil {
		u.errlog.LogError(ctx, ErrorReport{
			Category: model.ErrorCategoryDatabase,
			Severity: model.SeverityHigh,
			Message:  "create job: " + err.Error(),
			UserID:   p.UserID,
			Endpoint: "createJob",
		})
		return "", fmt.Errorf("%w: create job: %v", domain.ErrPersistence, err)
	}

	log := logging.ForJob(u.log, job)
	if err := u.scheduler.Submit(ctx, job); err != nil {
		// The row is the source of truth; queue maintenance re-enqueues orphans.
		log.Error().Err(err).Str("scheduler", u.scheduler.Name()).Msg("submit failed, job stays pending")
		u.errlog.LogError(ctx, ErrorReport{
			Category: model.ErrorCategoryQueue,
			Severity: model.SeverityMedium,
			Message:  "submit job: " + err.Error(),
			UserID:   p.UserID,
		})
	}

	u.errlog.TrackActivity(ctx, ActivityReport{
		UserID:   p.UserID,
		Action:   "job_created",
		Category: model.JobTypeAnalysis,
		Metadata: map[string]any{"jobId": job.ID, "provider": job.Provider, "model": job.ModelID},
	})
	log.Info().Str("template", job.TemplateID).Int("content_bytes", len(job.FileContent)).Msg("job created")
	return job.ID, nil
}

func (u *jobUC) validate(p *CreateJobParams) error {
	p.UserID = strings.TrimSpace(p.UserID)
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	p.ModelID = strings.TrimSpace(p.ModelID)
	p.TemplateID = strings.TrimSpace(p.TemplateID)
	if p.TemplateID == "" {
		p.TemplateID = DefaultTemplateID
	}

	switch {
	case p.UserID == "":
		return fmt.Errorf("%w: owner is required", domain.ErrInvalidArgument)
	case p.ModelID == "":
		return fmt.Errorf("%w: model is required", domain.ErrInvalidArgument)
	case strings.TrimSpace(p.FileContent) == "":
		return fmt.Errorf("%w: file content is empty", domain.ErrInvalidArgument)
	case len(p.FileContent) > maxFileBytes:
		return fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidArgument, maxFileBytes)
	case strings.TrimSpace(p.APIKey) == "":
		return fmt.Errorf("%w: provider credential is required", domain.ErrInvalidArgument)
	case !u.prompts.HasTemplate(p.TemplateID):
		return fmt.Errorf("%w: unknown template %q", domain.ErrInvalidArgument, p.TemplateID)
	}
	if _, err := u.providers.Lookup(p.Provider); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func (u *jobUC) GetJobStatus(ctx context.Context, jobID, ownerID string) (*JobStatusView, error) {
	j, err := u.jobs.FindByIDForOwner(ctx, jobID, ownerID)
	if err != nil {
		return nil, storeErr(err)
	}
	return NewJobStatusView(j, u.now()), nil
}

// NewJobStatusView derives the status page fields from a job row.
func NewJobStatusView(j *model.Job, now time.Time) *JobStatusView {
	v := &JobStatusView{
		ID:          j.ID,
		Status:      j.Status,
		TemplateID:  j.TemplateID,
		ModelID:     j.ModelID,
		Provider:    j.Provider,
		FileName:    j.FileName,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		TotalSteps:  j.TotalSteps,
		RetryCount:  j.RetryCount,
		Result:      j.Result,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	switch j.Status {
	case model.JobStatusCompleted, model.JobStatusCancelled:
		v.IsComplete = true
	case model.JobStatusFailed:
		v.IsComplete = true
		v.Error = j.Error
	}
	if d := j.EstimatedTimeRemaining(now); d != nil {
		secs := d.Seconds()
		v.EstimatedTimeRemaining = &secs
	}
	return v
}

func (u *jobUC) ListJobs(ctx context.Context, ownerID string, limit int) ([]*model.JobSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	out, err := u.jobs.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (u *jobUC) CancelJob(ctx context.Context, jobID, ownerID string) error {
	if err := u.jobs.Cancel(ctx, jobID, ownerID); err != nil {
		return storeErr(err)
	}
	u.errlog.TrackActivity(ctx, ActivityReport{
		UserID:   ownerID,
		Action:   "job_cancelled",
		Category: model.JobTypeAnalysis,
		Metadata: map[string]any{"jobId": jobID},
	})
	u.log.Info().Str("job_id", jobID).Str("user_id", ownerID).Msg("job cancelled")
	return nil
}

func storeErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}
