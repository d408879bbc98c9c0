package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/usecase"
)

// Limiter is a per-key fixed-window counter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds everything the router needs.
type Dependencies struct {
	Jobs        usecase.JobUseCase
	ErrorLog    usecase.ErrorLogUseCase
	Auth        *AuthManager
	Limiter     Limiter // nil disables create rate limiting
	CreateLimit int
	Checks      map[string]HealthCheck
	Scheduler   string
	Port        int
}

type Server struct {
	jobs        usecase.JobUseCase
	errlog      usecase.ErrorLogUseCase
	auth        *AuthManager
	limiter     Limiter
	createLimit int
	checks      map[string]HealthCheck
	scheduler   string
	log         *zerolog.Logger
	server      *http.Server
}

func NewServer(deps Dependencies, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	s := &Server{
		jobs:        deps.Jobs,
		errlog:      deps.ErrorLog,
		auth:        deps.Auth,
		limiter:     deps.Limiter,
		createLimit: deps.CreateLimit,
		checks:      deps.Checks,
		scheduler:   deps.Scheduler,
		log:         &l,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router with the middleware stack and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(30 * time.Second))
		r.Use(s.auth.Authenticate)

		r.Post("/jobs", s.createJob)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/cancel", s.cancelJob)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/admin/errors", s.listErrors)
			r.Post("/admin/errors/{id}/resolve", s.resolveError)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			s.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			continue
		}
		checks[name] = "up"
	}
	writeJSON(w, code, map[string]any{"status": status, "scheduler": s.scheduler, "checks": checks})
}

// Start blocks until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
