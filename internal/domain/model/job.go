package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

const (
	JobTypeAnalysis = "analysis"
	JobTotalSteps   = 4

	StepQueued     = "Queued for processing"
	StepPreparing  = "Preparing input"
	StepAnalyzing  = "Running AI analysis"
	StepValidating = "Validating results"
	StepSaving     = "Saving results"
	StepCompleted  = "Completed"
	StepFailed     = "Failed"
	StepCancelled  = "Cancelled"
)

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether from -> to is part of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for statuses no worker will move the job out of.
// FAILED is only terminal once the retry budget is spent.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Job is the durable record of one analysis request.
type Job struct {
	ID          string
	UserID      string
	Type        string
	Status      JobStatus
	TemplateID  string
	ModelID     string
	Provider    string
	FileName    string
	FileContent string
	// APIKey holds the encrypted provider credential. Never log it.
	APIKey      string
	Progress    int
	CurrentStep string
	TotalSteps  int
	RetryCount  int
	Error       *string
	Result      json.RawMessage
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewJob builds a PENDING analysis job.
func NewJob(id, userID, templateID, modelID, provider, fileName, fileContent, apiKey string) *Job {
	now := time.Now()
	return &Job{
		ID:          id,
		UserID:      userID,
		Type:        JobTypeAnalysis,
		Status:      JobStatusPending,
		TemplateID:  templateID,
		ModelID:     modelID,
		Provider:    provider,
		FileName:    fileName,
		FileContent: fileContent,
		APIKey:      apiKey,
		Progress:    0,
		CurrentStep: StepQueued,
		TotalSteps:  JobTotalSteps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// EstimatedTimeRemaining extrapolates the remaining duration from progress.
// It returns nil whenever no meaningful estimate exists.
func (j *Job) EstimatedTimeRemaining(now time.Time) *time.Duration {
	if j.Status != JobStatusProcessing || j.Progress <= 0 || j.StartedAt == nil {
		return nil
	}
	elapsed := now.Sub(*j.StartedAt)
	if elapsed <= 0 {
		return nil
	}
	ratio := float64(j.Progress) / 100
	remaining := time.Duration(float64(elapsed)/ratio) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// JobSummary is the list view of a job.
type JobSummary struct {
	ID          string
	Status      JobStatus
	TemplateID  string
	ModelID     string
	Provider    string
	FileName    string
	Progress    int
	CurrentStep string
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
