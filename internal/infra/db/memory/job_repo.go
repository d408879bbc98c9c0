// Package memory holds map-backed repositories for --dev runs and tests.
// They enforce the same conditional transitions as the Postgres ones.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

type JobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*model.Job), now: time.Now}
}

func copyJob(j *model.Job) *model.Job {
	cp := *j
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &cp
}

func (r *JobRepo) Create(_ context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *JobRepo) FindByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(j), nil
}

func (r *JobRepo) FindByIDForOwner(_ context.Context, id, ownerID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.UserID != ownerID {
		return nil, domain.ErrNotFound
	}
	return copyJob(j), nil
}

func (r *JobRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]*model.JobSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.JobSummary
	for _, j := range r.jobs {
		if j.UserID != ownerID {
			continue
		}
		out = append(out, &model.JobSummary{
			ID:          j.ID,
			Status:      j.Status,
			TemplateID:  j.TemplateID,
			ModelID:     j.ModelID,
			Provider:    j.Provider,
			FileName:    j.FileName,
			Progress:    j.Progress,
			CurrentStep: j.CurrentStep,
			Error:       j.Error,
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) ListPending(_ context.Context, excludeIDs []string, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	skip := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = struct{}{}
	}
	var out []*model.Job
	for _, j := range r.jobs {
		if j.Status != model.JobStatusPending {
			continue
		}
		if _, ok := skip[j.ID]; ok {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) Cancel(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.UserID != ownerID || !model.CanTransition(j.Status, model.JobStatusCancelled) {
		return domain.ErrNotFound
	}
	now := r.now()
	j.Status = model.JobStatusCancelled
	j.CurrentStep = model.StepCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (r *JobRepo) UpdateProgress(_ context.Context, id string, progress int, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing || progress < j.Progress {
		return nil
	}
	j.Progress = progress
	j.CurrentStep = step
	j.UpdatedAt = r.now()
	return nil
}

func (r *JobRepo) MarkProcessing(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobStatusPending {
		return false, nil
	}
	now := r.now()
	j.Status = model.JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (r *JobRepo) MarkCompleted(_ context.Context, id string, result json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing {
		return false, nil
	}
	now := r.now()
	j.Status = model.JobStatusCompleted
	j.Progress = 100
	j.CurrentStep = model.StepCompleted
	j.Result = append(json.RawMessage(nil), result...)
	j.Error = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (r *JobRepo) MarkFailed(_ context.Context, id, errMsg string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing {
		return 0, domain.ErrNotFound
	}
	now := r.now()
	msg := errMsg
	j.Status = model.JobStatusFailed
	j.CurrentStep = model.StepFailed
	j.Error = &msg
	j.RetryCount++
	j.CompletedAt = &now
	j.UpdatedAt = now
	return j.RetryCount, nil
}

func (r *JobRepo) Requeue(_ context.Context, id, step string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobStatusFailed {
		return false, nil
	}
	j.Status = model.JobStatusPending
	j.Progress = 0
	j.CurrentStep = step
	j.StartedAt = nil
	j.CompletedAt = nil
	j.Error = nil
	j.UpdatedAt = r.now()
	return true, nil
}

func (r *JobRepo) CountByStatus(_ context.Context) (map[model.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.JobStatus]int)
	for _, j := range r.jobs {
		out[j.Status]++
	}
	return out, nil
}
