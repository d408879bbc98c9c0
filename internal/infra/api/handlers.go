package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/infra/redis"
	"conversation-analysis/internal/usecase"
)

// maxBodyBytes leaves room for JSON escaping around a 5 MiB file.
const maxBodyBytes = 8 << 20

type createJobRequest struct {
	TemplateID  string `json:"templateId"`
	ModelID     string `json:"modelId"`
	Provider    string `json:"provider"`
	FileName    string `json:"fileName"`
	FileContent string `json:"fileContent"`
	APIKey      string `json:"apiKey"`
}

type jobListItem struct {
	ID          string          `json:"id"`
	Status      model.JobStatus `json:"status"`
	TemplateID  string          `json:"templateId"`
	ModelID     string          `json:"modelId"`
	Provider    string          `json:"provider"`
	FileName    string          `json:"fileName"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep"`
	Error       *string         `json:"error"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	if !s.allowCreate(w, r, owner) {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	id, err := s.jobs.CreateJob(r.Context(), usecase.CreateJobParams{
		UserID:      owner,
		TemplateID:  req.TemplateID,
		ModelID:     req.ModelID,
		Provider:    req.Provider,
		FileName:    req.FileName,
		FileContent: req.FileContent,
		APIKey:      req.APIKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

// allowCreate fails open when the limiter is unreachable.
func (s *Server) allowCreate(w http.ResponseWriter, r *http.Request, owner string) bool {
	if s.limiter == nil || s.createLimit <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), redis.UserCommandKey(owner, "create_job"), s.createLimit, time.Minute)
	if err != nil {
		l := logging.With(r.Context(), s.log)
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many jobs created, try again in a minute")
		return false
	}
	return true
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.jobs.ListJobs(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]jobListItem, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobListItem{
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
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	v, err := s.jobs.GetJobStatus(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.CancelJob(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorEventItem struct {
	ID              string              `json:"id"`
	Category        model.ErrorCategory `json:"category"`
	Severity        model.ErrorSeverity `json:"severity"`
	Message         string              `json:"message"`
	AIProvider      *string             `json:"aiProvider,omitempty"`
	Endpoint        *string             `json:"endpoint,omitempty"`
	OccurrenceCount int                 `json:"occurrenceCount"`
	FirstOccurred   time.Time           `json:"firstOccurred"`
	LastOccurred    time.Time           `json:"lastOccurred"`
}

func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.errlog.ListUnresolved(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]errorEventItem, 0, len(events))
	for _, ev := range events {
		out = append(out, errorEventItem{
			ID:              ev.ID,
			Category:        ev.Category,
			Severity:        ev.Severity,
			Message:         ev.Message,
			AIProvider:      ev.AIProvider,
			Endpoint:        ev.Endpoint,
			OccurrenceCount: ev.OccurrenceCount,
			FirstOccurred:   ev.FirstOccurred,
			LastOccurred:    ev.LastOccurred,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": out})
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) resolveError(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	err := s.errlog.ResolveError(r.Context(), chi.URLParam(r, "id"), ownerFrom(r.Context()), req.Resolution)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
