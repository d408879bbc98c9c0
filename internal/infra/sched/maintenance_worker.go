package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

// Sweeper is the broker maintenance entry point (nil in poller mode).
type Sweeper interface {
	Maintain(ctx context.Context, ttl time.Duration) error
}

// MaintenanceWorker periodically sweeps the queue and samples job counts.
type MaintenanceWorker struct {
	interval time.Duration
	sweeper  Sweeper
	jobs     repository.JobRepository
	log      *zerolog.Logger
}

func NewMaintenanceWorker(interval time.Duration, sweeper Sweeper, jobs repository.JobRepository, logger *zerolog.Logger) *MaintenanceWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "MaintenanceWorker").Logger()
	return &MaintenanceWorker{
		interval: interval,
		sweeper:  sweeper,
		jobs:     jobs,
		log:      &l,
	}
}

func (w *MaintenanceWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Bool("queue", w.sweeper != nil).Msg("Starting maintenance worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping maintenance worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep bounded by the interval.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	if w.sweeper != nil {
		if err := w.sweeper.Maintain(runCtx, w.interval); err != nil {
			w.log.Error().Err(err).Msg("queue maintenance error")
		}
	}

	counts, err := w.jobs.CountByStatus(runCtx)
	if err != nil {
		w.log.Error().Err(err).Msg("count jobs by status")
		return
	}
	byStatus := make(map[string]int, len(counts))
	for s, n := range counts {
		byStatus[string(s)] = n
	}
	metrics.SetJobsByStatus(byStatus)
}
