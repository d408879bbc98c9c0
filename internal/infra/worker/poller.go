// File: internal/infra/worker/poller.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
	ucport "conversation-analysis/internal/domain/ports/usecase"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/infra/metrics"
)

var _ ucport.JobScheduler = (*Poller)(nil)

// Poller discovers PENDING jobs by querying the store on a ticker.
type Poller struct {
	jobs          repository.JobRepository
	proc          *Processor
	tasks         *TaskSet
	interval      time.Duration
	retryAttempts int
	retryDelay    time.Duration
	log           *zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewPoller(jobs repository.JobRepository, proc *Processor, cfg config.WorkerConfig, logger *zerolog.Logger) *Poller {
	l := logger.With().Str("component", "poller").Logger()
	return &Poller{
		jobs:          jobs,
		proc:          proc,
		tasks:         NewTaskSet(cfg.MaxConcurrentJobs, &l),
		interval:      cfg.PollInterval,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		log:           &l,
		timers:        make(map[string]*time.Timer),
	}
}

func (p *Poller) Name() string { return config.SchedulerModePoller }

// Submit is a no-op: new rows are found by the next tick.
func (p *Poller) Submit(context.Context, *model.Job) error { return nil }

// Run polls until ctx is cancelled, then drains running jobs and flushes
// pending retries back to PENDING so the next process picks them up.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Int("max_concurrent", p.tasks.Cap()).Msg("Job poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Running jobs are allowed to finish on shutdown.
	taskCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Int("in_flight", p.tasks.Len()).Msg("Job poller stopping")
			p.tasks.Wait()
			p.flushRetries()
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx, taskCtx)
		}
	}
}

// tick starts as many pending jobs as there are free slots.
func (p *Poller) tick(ctx, taskCtx context.Context) int {
	free := p.tasks.Cap() - p.tasks.Len()
	if free <= 0 {
		return 0
	}
	pending, err := p.jobs.ListPending(ctx, p.tasks.Held(), free)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to list pending jobs")
		return 0
	}
	started := 0
	for _, j := range pending {
		job := j
		if p.tasks.TryStart(taskCtx, job.ID, func(ctx context.Context) { p.handle(ctx, job) }) {
			started++
		}
	}
	metrics.SetJobsInFlight(p.Name(), p.tasks.Len())
	return started
}

func (p *Poller) handle(ctx context.Context, job *model.Job) {
	log := logging.ForJob(p.log, job)
	ok, err := p.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Msg("claim job")
		return
	}
	if !ok {
		// cancelled or claimed elsewhere
		return
	}
	job.Status = model.JobStatusProcessing

	completed, err := p.proc.Execute(ctx, job)
	if err == nil {
		status := model.JobStatusCompleted
		if !completed {
			status = model.JobStatusCancelled
		}
		metrics.IncJobProcessed(string(status), p.Name())
		return
	}

	f, ferr := p.proc.RecordFailure(ctx, job, err, p.retryAttempts)
	if ferr != nil {
		if !errors.Is(ferr, domain.ErrNotFound) {
			log.Error().Err(ferr).AnErr("cause", err).Msg("record failure")
		}
		return
	}
	if f.Final {
		metrics.IncJobProcessed(string(model.JobStatusFailed), p.Name())
		return
	}
	metrics.IncJobRetry(p.Name())
	p.scheduleRetry(job.ID, p.retryDelay*time.Duration(f.RetryCount))
}

func (p *Poller) scheduleRetry(id string, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers[id] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, id)
		p.mu.Unlock()
		p.requeue(id)
	})
}

func (p *Poller) requeue(id string) {
	ok, err := p.jobs.Requeue(context.Background(), id, model.StepQueued)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", id).Msg("requeue job")
		return
	}
	if ok {
		p.log.Debug().Str("job_id", id).Msg("job requeued")
	}
}

func (p *Poller) flushRetries() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.timers))
	for id, t := range p.timers {
		if t.Stop() {
			ids = append(ids, id)
		}
		delete(p.timers, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.requeue(id)
	}
}
