package model

import (
	"encoding/json"
	"time"
)

type ErrorCategory string

const (
	ErrorCategorySystem     ErrorCategory = "system"
	ErrorCategoryDatabase   ErrorCategory = "database"
	ErrorCategoryAIProvider ErrorCategory = "ai-provider"
	ErrorCategoryQueue      ErrorCategory = "queue"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryAPI        ErrorCategory = "api"
)

type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorDedupWindow is how long identical errors are merged into one event.
const ErrorDedupWindow = 24 * time.Hour

// ErrorEvent is a deduplicated platform error.
type ErrorEvent struct {
	ID              string
	Category        ErrorCategory
	Severity        ErrorSeverity
	Code            *string
	Message         string
	UserID          *string
	Endpoint        *string
	StackTrace      *string
	RequestData     json.RawMessage
	ResponseData    json.RawMessage
	AIProvider      *string
	ModelID         *string
	OccurrenceCount int
	FirstOccurred   time.Time
	LastOccurred    time.Time
	IsResolved      bool
	ResolvedAt      *time.Time
	ResolvedBy      *string
	Resolution      *string
}

// DedupKey identifies events that are merged within ErrorDedupWindow.
type DedupKey struct {
	Category   ErrorCategory
	Message    string
	Code       string
	AIProvider string
	Endpoint   string
}

func (e *ErrorEvent) DedupKey() DedupKey {
	return DedupKey{
		Category:   e.Category,
		Message:    e.Message,
		Code:       deref(e.Code),
		AIProvider: deref(e.AIProvider),
		Endpoint:   deref(e.Endpoint),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
