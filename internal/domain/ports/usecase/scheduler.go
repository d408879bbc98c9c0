package usecase

import (
	"context"

	"conversation-analysis/internal/domain/model"
)

// JobScheduler drives PENDING jobs to a terminal state. Callers only ever
// read job state from the JobRepository, never from the scheduler.
type JobScheduler interface {
	Name() string
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context) error
	// Submit announces a freshly created job. Polling schedulers ignore it.
	Submit(ctx context.Context, job *model.Job) error
}
