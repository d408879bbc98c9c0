package repository

import (
	"context"
	"encoding/json"

	"conversation-analysis/internal/domain/model"
)

// JobRepository is the single source of truth for job state.
// Every mutation is a conditional single-row update on the current status.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	FindByID(ctx context.Context, id string) (*model.Job, error)
	// FindByIDForOwner returns domain.ErrNotFound when the job is missing or owned by someone else.
	FindByIDForOwner(ctx context.Context, id, ownerID string) (*model.Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.JobSummary, error)
	// ListPending returns PENDING jobs oldest first, skipping excludeIDs.
	ListPending(ctx context.Context, excludeIDs []string, limit int) ([]*model.Job, error)

	// Cancel moves a PENDING or PROCESSING job owned by ownerID to CANCELLED.
	Cancel(ctx context.Context, id, ownerID string) error
	// UpdateProgress never lowers progress and only touches PROCESSING jobs.
	UpdateProgress(ctx context.Context, id string, progress int, step string) error
	// MarkProcessing claims a PENDING job. It reports false when the job was not pending.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// MarkCompleted reports false when the job left PROCESSING meanwhile (e.g. cancelled).
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) (bool, error)
	// MarkFailed increments the retry count and returns its new value.
	// It returns domain.ErrNotFound when the job is no longer PROCESSING.
	MarkFailed(ctx context.Context, id, errMsg string) (int, error)
	// Requeue moves a FAILED job back to PENDING, resetting progress and startedAt.
	Requeue(ctx context.Context, id, step string) (bool, error)

	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}
