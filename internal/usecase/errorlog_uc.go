// File: internal/usecase/errorlog_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

const (
	maxErrorMessageLen = 1000
	maxStackTraceLen   = 5000
	redactedValue      = "[REDACTED]"
	activityTimeout    = 5 * time.Second
)

var sensitiveKeyParts = []string{
	"password", "apikey", "api_key", "token", "secret", "authorization", "key", "credential",
}

// Compile-time check
var _ ErrorLogUseCase = (*errorLogUC)(nil)

// ErrorReport is what callers know about a failure at the point it happens.
type ErrorReport struct {
	Category     model.ErrorCategory
	Severity     model.ErrorSeverity
	Message      string
	Code         string
	UserID       string
	Endpoint     string
	StackTrace   string
	RequestData  map[string]any
	ResponseData map[string]any
	AIProvider   string
	ModelID      string
}

type ActivityReport struct {
	UserID    string
	Action    string
	Category  string
	Page      string
	Metadata  map[string]any
	SessionID string
	IPAddress string
	UserAgent string
}

// ErrorLogUseCase records platform errors and user activity. Logging never
// fails the caller: storage problems are written to the process log only.
type ErrorLogUseCase interface {
	LogError(ctx context.Context, r ErrorReport)
	TrackActivity(ctx context.Context, r ActivityReport)
	ResolveError(ctx context.Context, id, resolvedBy, resolution string) error
	ListUnresolved(ctx context.Context, limit int) ([]*model.ErrorEvent, error)
	// Wait blocks until in-flight activity writes are done.
	Wait()
}

type errorLogUC struct {
	errors     repository.ErrorEventRepository
	activities repository.ActivityRepository
	log        *zerolog.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

func NewErrorLogUseCase(errors repository.ErrorEventRepository, activities repository.ActivityRepository, logger *zerolog.Logger) *errorLogUC {
	l := logger.With().Str("component", "errorlog").Logger()
	return &errorLogUC{errors: errors, activities: activities, log: &l, now: time.Now}
}

func (u *errorLogUC) LogError(ctx context.Context, r ErrorReport) {
	now := u.now()
	ev := &model.ErrorEvent{
		ID:              ulid.Make().String(),
		Category:        r.Category,
		Severity:        r.Severity,
		Message:         truncateString(r.Message, maxErrorMessageLen),
		Code:            optional(r.Code),
		UserID:          optional(r.UserID),
		Endpoint:        optional(r.Endpoint),
		StackTrace:      optional(truncateString(r.StackTrace, maxStackTraceLen)),
		RequestData:     sanitizedJSON(r.RequestData),
		ResponseData:    sanitizedJSON(r.ResponseData),
		AIProvider:      optional(r.AIProvider),
		ModelID:         optional(r.ModelID),
		OccurrenceCount: 1,
		FirstOccurred:   now,
		LastOccurred:    now,
	}
	if ev.Severity == "" {
		ev.Severity = model.SeverityMedium
	}
	metrics.IncErrorEvent(string(ev.Category), string(ev.Severity))

	stored, err := u.errors.Upsert(ctx, ev)
	if err != nil {
		u.log.Error().Err(err).
			Str("category", string(ev.Category)).
			Str("error_message", ev.Message).
			Msg("failed to record error event")
		return
	}
	u.log.Debug().
		Str("event_id", stored.ID).
		Int("occurrences", stored.OccurrenceCount).
		Msg("error event recorded")
}

// TrackActivity writes in the background with its own deadline so request
// cancellation never drops the event.
func (u *errorLogUC) TrackActivity(_ context.Context, r ActivityReport) {
	ev := &model.ActivityEvent{
		ID:        ulid.Make().String(),
		UserID:    r.UserID,
		Action:    r.Action,
		Category:  r.Category,
		Page:      optional(r.Page),
		Metadata:  sanitizedJSON(r.Metadata),
		SessionID: optional(r.SessionID),
		IPAddress: optional(r.IPAddress),
		UserAgent: optional(r.UserAgent),
		Timestamp: u.now(),
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), activityTimeout)
		defer cancel()
		if err := u.activities.Append(ctx, ev); err != nil {
			u.log.Warn().Err(err).Str("action", ev.Action).Msg("failed to track activity")
		}
	}()
}

func (u *errorLogUC) ResolveError(ctx context.Context, id, resolvedBy, resolution string) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(resolvedBy) == "" {
		return domain.ErrInvalidArgument
	}
	return u.errors.Resolve(ctx, id, resolvedBy, resolution)
}

func (u *errorLogUC) ListUnresolved(ctx context.Context, limit int) ([]*model.ErrorEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return u.errors.ListUnresolved(ctx, limit)
}

func (u *errorLogUC) Wait() { u.wg.Wait() }

// SanitizeData replaces values of sensitive keys at any depth.
func SanitizeData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return SanitizeData(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = sanitizeValue(e)
		}
		return cp
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

func sanitizedJSON(data map[string]any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(SanitizeData(data))
	if err != nil {
		return nil
	}
	return b
}

// truncateString cuts s to at most maxChars characters.
func truncateString(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
