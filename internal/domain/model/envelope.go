package model

import "time"

// DefaultMaxAttempts bounds broker-side retries of an envelope.
const DefaultMaxAttempts = 3

// Envelope is the broker copy of the parameters needed to execute a job.
type Envelope struct {
	JobID       string     `json:"jobId"`
	UserID      string     `json:"userId"`
	TemplateID  string     `json:"templateId"`
	ModelID     string     `json:"modelId"`
	Provider    string     `json:"provider"`
	FileName    string     `json:"fileName"`
	FileContent string     `json:"fileContent"`
	APIKey      string     `json:"apiKey"` // encrypted, same as the job row
	RetryCount  int        `json:"retryCount"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// EnvelopeFromJob copies the execution parameters of a job.
func EnvelopeFromJob(j *Job) *Envelope {
	return &Envelope{
		JobID:       j.ID,
		UserID:      j.UserID,
		TemplateID:  j.TemplateID,
		ModelID:     j.ModelID,
		Provider:    j.Provider,
		FileName:    j.FileName,
		FileContent: j.FileContent,
		APIKey:      j.APIKey,
		RetryCount:  j.RetryCount,
	}
}

// Job rebuilds the execution view of the job carried by the envelope.
func (e *Envelope) Job() *Job {
	return &Job{
		ID:          e.JobID,
		UserID:      e.UserID,
		Type:        JobTypeAnalysis,
		Status:      JobStatusProcessing,
		TemplateID:  e.TemplateID,
		ModelID:     e.ModelID,
		Provider:    e.Provider,
		FileName:    e.FileName,
		FileContent: e.FileContent,
		APIKey:      e.APIKey,
		TotalSteps:  JobTotalSteps,
		RetryCount:  e.RetryCount,
		CreatedAt:   e.CreatedAt,
	}
}
