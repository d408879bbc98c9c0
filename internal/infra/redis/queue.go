// File: internal/infra/redis/queue.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
	"conversation-analysis/internal/infra/metrics"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	defaultStuckTimeout   = 30 * time.Minute
	defaultOrphanAge      = time.Minute
	orphanBatch           = 100
	retryBatch            = 100
)

var errNoEnvelope = errors.New("envelope missing")

type QueueOptions struct {
	Prefix         string
	MaxAttempts    int
	DequeueTimeout time.Duration
	StuckTimeout   time.Duration
	// OrphanAge is how long a PENDING row may sit unannounced before
	// maintenance enqueues it again.
	OrphanAge time.Duration
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retry      int64 `json:"retry"`
}

type queueKeys struct {
	pending    string // list of job ids; BRPOP side is the head
	processing string // list of job ids being worked on
	retry      string // zset of job ids scored by ready-at ms
	members    string // set of every job id the queue holds
	started    string // hash job id -> start ms
	envelopes  string // hash job id -> envelope json
	lock       string
}

func newQueueKeys(prefix string) queueKeys {
	if prefix == "" {
		prefix = "analysis"
	}
	return queueKeys{
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		retry:      prefix + ":retry",
		members:    prefix + ":members",
		started:    prefix + ":started",
		envelopes:  prefix + ":envelopes",
		lock:       prefix + ":maintenance",
	}
}

// Queue is the durable broker for analysis jobs. The job row stays the source
// of truth; the queue only decides who runs what and when.
type Queue struct {
	cli    Client
	jobs   repository.JobRepository
	locker Locker
	keys   queueKeys
	opts   QueueOptions
	log    *zerolog.Logger
	now    func() time.Time
}

func NewQueue(cli Client, jobs repository.JobRepository, locker Locker, opts QueueOptions, logger *zerolog.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = model.DefaultMaxAttempts
	}
	if opts.DequeueTimeout <= 0 {
		opts.DequeueTimeout = defaultDequeueTimeout
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = defaultStuckTimeout
	}
	if opts.OrphanAge <= 0 {
		opts.OrphanAge = defaultOrphanAge
	}
	l := logger.With().Str("component", "queue").Logger()
	return &Queue{
		cli:    cli,
		jobs:   jobs,
		locker: locker,
		keys:   newQueueKeys(opts.Prefix),
		opts:   opts,
		log:    &l,
		now:    time.Now,
	}
}

var luaEnqueue = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("LPUSH", KEYS[2], ARGV[1])
return 1`)

// luaRelease puts a claimed id back at the head of pending.
var luaRelease = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("RPUSH", KEYS[3], ARGV[1])
return 1`)

var luaDrop = redis.NewScript(`
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("SREM", KEYS[4], ARGV[1])
redis.call("ZREM", KEYS[5], ARGV[1])
return 1`)

var luaSchedule = redis.NewScript(`
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[1])
return 1`)

var luaDue = redis.NewScript(`
return redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])`)

// luaPromote moves one due id to pending unless another sweep already did.
var luaPromote = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("LPUSH", KEYS[2], ARGV[1])
return 1`)

// Enqueue adds env unless its job is already queued. It reports whether the
// envelope was added.
func (q *Queue) Enqueue(ctx context.Context, env *model.Envelope) (bool, error) {
	env.Attempts = 0
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = q.opts.MaxAttempts
	}
	env.CreatedAt = q.now()
	payload, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("marshal envelope: %w", err)
	}
	res, err := q.cli.Run(ctx, luaEnqueue,
		[]string{q.keys.members, q.keys.pending, q.keys.envelopes},
		env.JobID, string(payload))
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", env.JobID, err)
	}
	added := toInt64(res) == 1
	if !added {
		q.log.Debug().Str("job_id", env.JobID).Msg("job already queued")
	}
	return added, nil
}

// Dequeue blocks for up to DequeueTimeout and claims the next job in the store.
// It returns domain.ErrQueueEmpty on timeout and (nil, nil) when the popped job
// was no longer pending. When the store is unreachable the id goes back to the
// head of pending and an ErrPersistence error is returned.
func (q *Queue) Dequeue(ctx context.Context) (*model.Envelope, error) {
	id, err := q.cli.BRPopLPush(ctx, q.keys.pending, q.keys.processing, q.opts.DequeueTimeout)
	if IsNil(err) {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if err := q.cli.HSet(ctx, q.keys.started, id, q.now().UnixMilli()); err != nil {
		q.log.Warn().Err(err).Str("job_id", id).Msg("record start time")
	}

	env, err := q.load(ctx, id)
	if errors.Is(err, errNoEnvelope) {
		q.log.Warn().Str("job_id", id).Msg("queued id without envelope, dropping")
		return nil, q.drop(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	ok, err := q.jobs.MarkProcessing(ctx, id)
	if err != nil {
		if _, rerr := q.cli.Run(ctx, luaRelease,
			[]string{q.keys.processing, q.keys.started, q.keys.pending}, id); rerr != nil {
			q.log.Error().Err(rerr).Str("job_id", id).Msg("release claimed job")
		}
		return nil, fmt.Errorf("%w: claim job %s: %v", domain.ErrPersistence, id, err)
	}
	if !ok {
		q.log.Info().Str("job_id", id).Msg("job no longer pending, dropping envelope")
		return nil, q.drop(ctx, id)
	}
	return env, nil
}

// Complete forgets a finished job.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.drop(ctx, jobID)
}

// Fail records a failed attempt and reports whether a retry was scheduled.
// Non-retryable failures spend the whole attempt budget at once.
func (q *Queue) Fail(ctx context.Context, jobID, msg string, retryable bool) (bool, error) {
	env, err := q.load(ctx, jobID)
	if errors.Is(err, errNoEnvelope) {
		return false, q.drop(ctx, jobID)
	}
	if err != nil {
		return false, err
	}

	now := q.now()
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = q.opts.MaxAttempts
	}
	env.Attempts++
	if !retryable {
		env.Attempts = env.MaxAttempts
	}
	env.LastError = msg
	env.LastAttempt = &now
	if env.Attempts >= env.MaxAttempts {
		return false, q.drop(ctx, jobID)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("marshal envelope: %w", err)
	}
	readyAt := now.Add(Backoff(env.Attempts))
	if _, err := q.cli.Run(ctx, luaSchedule,
		[]string{q.keys.processing, q.keys.started, q.keys.envelopes, q.keys.retry},
		jobID, string(payload), readyAt.UnixMilli()); err != nil {
		return false, fmt.Errorf("schedule retry %s: %w", jobID, err)
	}
	q.log.Info().Str("job_id", jobID).Int("attempt", env.Attempts).Time("ready_at", readyAt).Msg("retry scheduled")
	return true, nil
}

// Backoff is the delay before retry number attempts: 2^attempts seconds.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	return time.Duration(1<<uint(attempts)) * time.Second
}

// ProcessRetries moves due retries to the tail of pending. The job row stays
// FAILED with its error while the envelope waits in the retry set; it is put
// back to PENDING here, before the id becomes visible to Dequeue. A row that
// cannot be requeued right now keeps its envelope in the retry set.
func (q *Queue) ProcessRetries(ctx context.Context) (int, error) {
	res, err := q.cli.Run(ctx, luaDue, []string{q.keys.retry}, q.now().UnixMilli(), retryBatch)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}
	ids, _ := res.([]interface{})

	moved := 0
	for _, raw := range ids {
		id, ok := raw.(string)
		if !ok {
			continue
		}
		applied, err := q.jobs.Requeue(ctx, id, model.StepQueued)
		if err != nil {
			q.log.Error().Err(err).Str("job_id", id).Msg("requeue job, retry kept")
			continue
		}
		if !applied {
			// Dequeue drops it unless the row is PENDING already.
			q.log.Debug().Str("job_id", id).Msg("job row not failed at promotion")
		}
		r, err := q.cli.Run(ctx, luaPromote, []string{q.keys.retry, q.keys.pending}, id)
		if err != nil {
			return moved, fmt.Errorf("promote %s: %w", id, err)
		}
		moved += int(toInt64(r))
	}
	return moved, nil
}

// CleanupStuckJobs fails jobs that have been processing longer than
// StuckTimeout, both in the broker and in the store.
func (q *Queue) CleanupStuckJobs(ctx context.Context) (int, error) {
	ids, err := q.cli.LRange(ctx, q.keys.processing, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}
	now := q.now()
	msg := fmt.Sprintf("processing timed out after %s", q.opts.StuckTimeout)
	n := 0
	for _, id := range ids {
		raw, err := q.cli.HGet(ctx, q.keys.started, id)
		if IsNil(err) {
			// claimed but never stamped; start the clock now
			_, _ = q.cli.HSetNX(ctx, q.keys.started, id, now.UnixMilli())
			continue
		}
		if err != nil {
			return n, fmt.Errorf("read start time: %w", err)
		}
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil && now.Sub(time.UnixMilli(ms)) < q.opts.StuckTimeout {
			continue
		}

		scheduled, err := q.Fail(ctx, id, msg, true)
		if err != nil {
			q.log.Error().Err(err).Str("job_id", id).Msg("fail stuck job")
			continue
		}
		n++
		q.log.Warn().Str("job_id", id).Bool("retry", scheduled).Msg("stuck job recovered")

		// The row stays FAILED until ProcessRetries promotes the retry.
		if _, err := q.jobs.MarkFailed(ctx, id, msg); err != nil && !errors.Is(err, domain.ErrNotFound) {
			q.log.Error().Err(err).Str("job_id", id).Msg("mark stuck job failed")
		}
	}
	metrics.AddStuckRecovered(n)
	return n, nil
}

// ReconcileOrphans enqueues PENDING rows the broker does not know about, such
// as jobs whose announcement failed at creation time.
func (q *Queue) ReconcileOrphans(ctx context.Context) (int, error) {
	pending, err := q.jobs.ListPending(ctx, nil, orphanBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	cutoff := q.now().Add(-q.opts.OrphanAge)
	n := 0
	for _, j := range pending {
		if j.UpdatedAt.After(cutoff) {
			continue
		}
		added, err := q.Enqueue(ctx, model.EnvelopeFromJob(j))
		if err != nil {
			return n, err
		}
		if added {
			n++
			q.log.Info().Str("job_id", j.ID).Msg("orphaned job enqueued")
		}
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var (
		s   QueueStats
		err error
	)
	if s.Pending, err = q.cli.LLen(ctx, q.keys.pending); err != nil {
		return s, err
	}
	if s.Processing, err = q.cli.LLen(ctx, q.keys.processing); err != nil {
		return s, err
	}
	if s.Retry, err = q.cli.ZCard(ctx, q.keys.retry); err != nil {
		return s, err
	}
	metrics.SetQueueDepth(s.Pending, s.Processing, s.Retry)
	return s, nil
}

// Maintain runs one sweep: due retries, stuck jobs, orphans and depth gauges.
// Only the process holding the maintenance lock sweeps; the others return nil.
func (q *Queue) Maintain(ctx context.Context, ttl time.Duration) error {
	token, err := q.locker.TryLock(ctx, q.keys.lock, ttl)
	if errors.Is(err, ErrLockHeld) {
		q.log.Debug().Msg("maintenance running elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("maintenance lock: %w", err)
	}
	defer func() {
		if err := q.locker.Unlock(context.Background(), q.keys.lock, token); err != nil {
			q.log.Warn().Err(err).Msg("release maintenance lock")
		}
	}()

	var errs []error
	moved, err := q.ProcessRetries(ctx)
	errs = append(errs, err)
	stuck, err := q.CleanupStuckJobs(ctx)
	errs = append(errs, err)
	orphans, err := q.ReconcileOrphans(ctx)
	errs = append(errs, err)
	stats, err := q.Stats(ctx)
	errs = append(errs, err)

	q.log.Debug().
		Int("retries_moved", moved).
		Int("stuck", stuck).
		Int("orphans", orphans).
		Int64("pending", stats.Pending).
		Int64("processing", stats.Processing).
		Int64("retry", stats.Retry).
		Msg("queue maintenance")
	return errors.Join(errs...)
}

func (q *Queue) load(ctx context.Context, jobID string) (*model.Envelope, error) {
	raw, err := q.cli.HGet(ctx, q.keys.envelopes, jobID)
	if IsNil(err) {
		return nil, errNoEnvelope
	}
	if err != nil {
		return nil, fmt.Errorf("load envelope %s: %w", jobID, err)
	}
	var env model.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		q.log.Error().Err(err).Str("job_id", jobID).Msg("corrupt envelope")
		return nil, errNoEnvelope
	}
	return &env, nil
}

func (q *Queue) drop(ctx context.Context, jobID string) error {
	_, err := q.cli.Run(ctx, luaDrop,
		[]string{q.keys.processing, q.keys.started, q.keys.envelopes, q.keys.members, q.keys.retry},
		jobID)
	if err != nil {
		return fmt.Errorf("drop %s: %w", jobID, err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
