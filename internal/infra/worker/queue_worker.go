// File: internal/infra/worker/queue_worker.go
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

// JobQueue is the broker side of the durable scheduler.
type JobQueue interface {
	Enqueue(ctx context.Context, env *model.Envelope) (bool, error)
	Dequeue(ctx context.Context) (*model.Envelope, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, msg string, retryable bool) (bool, error)
}

var _ ucport.JobScheduler = (*QueueWorker)(nil)

// QueueWorker runs jobs handed out by a durable queue. Several goroutines
// dequeue at once; the broker's atomic list move keeps them apart.
type QueueWorker struct {
	queue       JobQueue
	jobs        repository.JobRepository
	proc        *Processor
	workers     int
	maxAttempts int
	errBackoff  time.Duration
	inFlight    atomic.Int64
	log         *zerolog.Logger
}

func NewQueueWorker(queue JobQueue, jobs repository.JobRepository, proc *Processor, cfg config.WorkerConfig, logger *zerolog.Logger) *QueueWorker {
	l := logger.With().Str("component", "queue_worker").Logger()
	workers := cfg.MaxConcurrentJobs
	if workers <= 0 {
		workers = 1
	}
	maxAttempts := cfg.QueueMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	backoff := cfg.PollInterval
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &QueueWorker{
		queue:       queue,
		jobs:        jobs,
		proc:        proc,
		workers:     workers,
		maxAttempts: maxAttempts,
		errBackoff:  backoff,
		log:         &l,
	}
}

func (w *QueueWorker) Name() string { return config.SchedulerModeRedis }

// Submit announces the job to the broker. Enqueue is idempotent per job id.
func (w *QueueWorker) Submit(ctx context.Context, job *model.Job) error {
	_, err := w.queue.Enqueue(ctx, model.EnvelopeFromJob(job))
	return err
}

func (w *QueueWorker) Run(ctx context.Context) error {
	w.log.Info().Int("workers", w.workers).Msg("Queue worker started")
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, taskCtx, id)
		}(i)
	}
	wg.Wait()
	w.log.Info().Msg("Queue worker stopped")
	return ctx.Err()
}

func (w *QueueWorker) loop(ctx, taskCtx context.Context, id int) {
	for ctx.Err() == nil {
		env, err := w.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, domain.ErrQueueEmpty):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Int("worker", id).Msg("dequeue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errBackoff):
			}
			continue
		case env == nil:
			continue
		}
		w.handle(taskCtx, env)
	}
}

func (w *QueueWorker) handle(ctx context.Context, env *model.Envelope) {
	metrics.SetJobsInFlight(w.Name(), int(w.inFlight.Add(1)))
	defer func() { metrics.SetJobsInFlight(w.Name(), int(w.inFlight.Add(-1))) }()

	job := w.current(ctx, env)
	log := logging.ForJob(w.log, job)

	completed, err := w.proc.Execute(ctx, job)
	if err == nil {
		status := model.JobStatusCompleted
		if !completed {
			status = model.JobStatusCancelled
		}
		metrics.IncJobProcessed(string(status), w.Name())
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			log.Error().Err(err).Msg("complete envelope")
		}
		return
	}

	f, ferr := w.proc.RecordFailure(ctx, job, err, w.maxAttempts)
	if errors.Is(ferr, domain.ErrNotFound) {
		// cancelled meanwhile
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			log.Error().Err(err).Msg("complete envelope")
		}
		return
	}
	if ferr != nil {
		// The envelope stays in processing; the stuck sweep recovers it.
		log.Error().Err(ferr).AnErr("cause", err).Msg("record failure")
		return
	}

	scheduled, qerr := w.queue.Fail(ctx, job.ID, f.Message, !f.Final)
	if qerr != nil {
		log.Error().Err(qerr).Msg("fail envelope")
	}
	if !scheduled {
		metrics.IncJobProcessed(string(model.JobStatusFailed), w.Name())
		return
	}
	// The row stays FAILED until queue maintenance promotes the retry.
	metrics.IncJobRetry(w.Name())
	log.Info().Int("retry_count", f.RetryCount).Msg("retry scheduled")
}

// current prefers the stored row over the envelope copy, which may carry a
// stale retry count.
func (w *QueueWorker) current(ctx context.Context, env *model.Envelope) *model.Job {
	j, err := w.jobs.FindByID(ctx, env.JobID)
	if err != nil {
		w.log.Warn().Err(err).Str("job_id", env.JobID).Msg("read job row, using envelope")
		return env.Job()
	}
	return j
}
