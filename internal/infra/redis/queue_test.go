//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/infra/db/memory"
)

type queueFixture struct {
	mr   *miniredis.Miniredis
	cli  *redClient
	jobs *memory.JobRepo
	q    *Queue
}

func newQueueFixture(t *testing.T, opts QueueOptions) *queueFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := NewClient(context.Background(), config.RedisConfig{URL: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	if opts.DequeueTimeout == 0 {
		opts.DequeueTimeout = time.Second
	}
	logger := zerolog.Nop()
	jobs := memory.NewJobRepo()
	return &queueFixture{
		mr:   mr,
		cli:  cli,
		jobs: jobs,
		q:    NewQueue(cli, jobs, NewLocker(cli), opts, &logger),
	}
}

func (f *queueFixture) createJob(t *testing.T, id string) *model.Job {
	t.Helper()
	j := model.NewJob(id, "u1", "default", "gpt-4o-mini", "openai", "chat.txt", "a: hi", "sealed")
	require.NoError(t, f.jobs.Create(context.Background(), j))
	return j
}

func (f *queueFixture) status(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

// brokenStore fails every claim.
type brokenStore struct{ *memory.JobRepo }

func (brokenStore) MarkProcessing(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")

	added, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	assert.False(t, added)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Pending: 1}, stats)
}

func TestQueue_ConcurrentDequeueDeliversOnce(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	for i := 0; i < 2; i++ {
		_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		got  []*model.Envelope
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := f.q.Dequeue(ctx)
			mu.Lock()
			defer mu.Unlock()
			if env != nil {
				got = append(got, env)
			}
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, "job-1", got[0].JobID)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrQueueEmpty)
	assert.Equal(t, model.JobStatusProcessing, f.status(t, "job-1").Status)
}

func TestQueue_DequeueDropsCancelledJob(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	require.NoError(t, f.jobs.Cancel(ctx, "job-1", "u1"))

	env, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, env)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{}, stats)
	assert.False(t, f.mr.Exists("analysis:members"))
	assert.False(t, f.mr.Exists("analysis:envelopes"))
}

func TestQueue_DequeueStoreDownPushesBack(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	f.q.jobs = brokenStore{f.jobs}

	env, err := f.q.Dequeue(ctx)
	assert.Nil(t, env)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Pending: 1}, stats)
}

func TestQueue_CompleteForgetsJob(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	env, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, f.q.Complete(ctx, env.JobID))
	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{}, stats)

	// a finished job may be announced again
	added, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestQueue_FailSchedulesBackoffThenDrops(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{MaxAttempts: 2})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	_, err = f.q.Dequeue(ctx)
	require.NoError(t, err)

	now := time.Now()
	f.q.now = func() time.Time { return now }
	scheduled, err := f.q.Fail(ctx, "job-1", "timeout", true)
	require.NoError(t, err)
	assert.True(t, scheduled)
	_, err = f.jobs.MarkFailed(ctx, "job-1", "timeout")
	require.NoError(t, err)

	score, err := f.mr.ZScore("analysis:retry", "job-1")
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(2*time.Second).UnixMilli()), score)

	// not due yet; the row keeps its failure while it waits
	moved, err := f.q.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.Equal(t, model.JobStatusFailed, f.status(t, "job-1").Status)

	f.q.now = func() time.Time { return now.Add(3 * time.Second) }
	moved, err = f.q.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	got := f.status(t, "job-1")
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.Error)

	env, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 1, env.Attempts)
	assert.Equal(t, "timeout", env.LastError)

	scheduled, err = f.q.Fail(ctx, "job-1", "timeout again", true)
	require.NoError(t, err)
	assert.False(t, scheduled, "attempt budget is spent")
	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{}, stats)
}

func TestQueue_FailNonRetryableDropsAtOnce(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	_, err = f.q.Dequeue(ctx)
	require.NoError(t, err)

	scheduled, err := f.q.Fail(ctx, "job-1", "bad key", false)
	require.NoError(t, err)
	assert.False(t, scheduled)
	assert.False(t, f.mr.Exists("analysis:retry"))
}

func TestQueue_CleanupStuckJobs(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int // 0 keeps the queue default
		wantRetry   bool
	}{
		{"default budget fails the row and schedules a retry", 0, true},
		{"last attempt fails the row for good", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQueueFixture(t, QueueOptions{})
			ctx := context.Background()
			j := f.createJob(t, "job-1")
			env := model.EnvelopeFromJob(j)
			env.MaxAttempts = tt.maxAttempts
			_, err := f.q.Enqueue(ctx, env)
			require.NoError(t, err)
			_, err = f.q.Dequeue(ctx)
			require.NoError(t, err)

			// fresh jobs are left alone
			n, err := f.q.CleanupStuckJobs(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			later := time.Now().Add(31 * time.Minute)
			f.q.now = func() time.Time { return later }
			n, err = f.q.CleanupStuckJobs(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got := f.status(t, "job-1")
			assert.Equal(t, model.JobStatusFailed, got.Status)
			assert.Equal(t, 1, got.RetryCount)
			require.NotNil(t, got.Error)
			assert.Contains(t, *got.Error, "timed out")

			_, zerr := f.mr.ZScore("analysis:retry", "job-1")
			assert.Equal(t, tt.wantRetry, zerr == nil)
			stats, err := f.q.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.Processing)
		})
	}
}

func TestQueue_ProcessRetriesRequeuesRowBeforeDelivery(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	_, err = f.q.Dequeue(ctx)
	require.NoError(t, err)

	later := time.Now().Add(31 * time.Minute)
	f.q.now = func() time.Time { return later }
	_, err = f.q.CleanupStuckJobs(ctx)
	require.NoError(t, err)

	// a store outage keeps the envelope parked
	f.q.jobs = failingRequeue{f.jobs}
	f.q.now = func() time.Time { return later.Add(time.Minute) }
	moved, err := f.q.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.Equal(t, model.JobStatusFailed, f.status(t, "job-1").Status)

	f.q.jobs = f.jobs
	moved, err = f.q.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, model.JobStatusPending, f.status(t, "job-1").Status)

	env, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 1, env.Attempts)
	assert.Contains(t, env.LastError, "timed out")
	assert.Equal(t, model.JobStatusProcessing, f.status(t, "job-1").Status)
}

// failingRequeue cannot move rows back to pending.
type failingRequeue struct{ *memory.JobRepo }

func (failingRequeue) Requeue(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestQueue_ReconcileOrphans(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{OrphanAge: time.Minute})
	ctx := context.Background()
	orphan := f.createJob(t, "orphan")
	_ = f.createJob(t, "queued")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(&model.Job{ID: "queued"}))
	require.NoError(t, err)

	n, err := f.q.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "young rows are still being announced")

	f.q.now = func() time.Time { return orphan.UpdatedAt.Add(2 * time.Minute) }
	n, err = f.q.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
}

func TestQueue_MaintainSkipsWhenLocked(t *testing.T) {
	f := newQueueFixture(t, QueueOptions{})
	ctx := context.Background()
	j := f.createJob(t, "job-1")
	_, err := f.q.Enqueue(ctx, model.EnvelopeFromJob(j))
	require.NoError(t, err)
	_, err = f.q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = f.q.Fail(ctx, "job-1", "x", true)
	require.NoError(t, err)
	f.q.now = func() time.Time { return time.Now().Add(time.Hour) }

	token, err := NewLocker(f.cli).TryLock(ctx, "analysis:maintenance", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.q.Maintain(ctx, time.Minute))
	assert.True(t, f.mr.Exists("analysis:retry"), "locked sweep must not move retries")

	require.NoError(t, NewLocker(f.cli).Unlock(ctx, "analysis:maintenance", token))
	require.NoError(t, f.q.Maintain(ctx, time.Minute))
	assert.False(t, f.mr.Exists("analysis:retry"))
	assert.False(t, f.mr.Exists("analysis:maintenance"), "lock is released after the sweep")
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 8*time.Second, Backoff(3))
}
