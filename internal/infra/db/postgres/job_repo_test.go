//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
)

func newTestJob(owner string) *model.Job {
	return model.NewJob(uuid.NewString(), owner, "default", "gpt-4o-mini", "openai", "chat.txt", "hello", "v1:sealed")
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewJobRepo(testPool)

	t.Run("create, claim, progress, complete", func(t *testing.T) {
		cleanup(t)
		j := newTestJob("u1")
		if err := repo.Create(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.Create(ctx, j); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("duplicate create err = %v", err)
		}

		ok, err := repo.MarkProcessing(ctx, j.ID)
		if err != nil || !ok {
			t.Fatalf("MarkProcessing = %v, %v", ok, err)
		}
		if ok, _ := repo.MarkProcessing(ctx, j.ID); ok {
			t.Fatalf("second claim must fail")
		}

		_ = repo.UpdateProgress(ctx, j.ID, 50, model.StepAnalyzing)
		_ = repo.UpdateProgress(ctx, j.ID, 25, model.StepPreparing)
		got, _ := repo.FindByID(ctx, j.ID)
		if got.Progress != 50 || got.StartedAt == nil {
			t.Fatalf("progress = %d startedAt = %v", got.Progress, got.StartedAt)
		}

		ok, err = repo.MarkCompleted(ctx, j.ID, json.RawMessage(`{"overallSummary":"x","insights":[]}`))
		if err != nil || !ok {
			t.Fatalf("MarkCompleted = %v, %v", ok, err)
		}
		got, _ = repo.FindByIDForOwner(ctx, j.ID, "u1")
		if got.Status != model.JobStatusCompleted || got.Progress != 100 || got.CompletedAt == nil {
			t.Fatalf("unexpected row %+v", got)
		}
		var res map[string]any
		if err := json.Unmarshal(got.Result, &res); err != nil || res["overallSummary"] != "x" {
			t.Fatalf("result round trip: %v %v", res, err)
		}
		if _, err := repo.FindByIDForOwner(ctx, j.ID, "u2"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("foreign owner err = %v", err)
		}
	})

	t.Run("fail, requeue and cancel guards", func(t *testing.T) {
		cleanup(t)
		j := newTestJob("u1")
		_ = repo.Create(ctx, j)
		_, _ = repo.MarkProcessing(ctx, j.ID)

		n, err := repo.MarkFailed(ctx, j.ID, "timeout")
		if err != nil || n != 1 {
			t.Fatalf("MarkFailed = %d, %v", n, err)
		}
		if ok, _ := repo.Requeue(ctx, j.ID, "Retrying"); !ok {
			t.Fatalf("requeue refused")
		}
		got, _ := repo.FindByID(ctx, j.ID)
		if got.Status != model.JobStatusPending || got.Error != nil || got.StartedAt != nil || got.RetryCount != 1 {
			t.Fatalf("unexpected requeued row %+v", got)
		}

		_, _ = repo.MarkProcessing(ctx, j.ID)
		if err := repo.Cancel(ctx, j.ID, "u1"); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if ok, _ := repo.MarkCompleted(ctx, j.ID, json.RawMessage(`{}`)); ok {
			t.Fatalf("completion overrode cancellation")
		}
		if _, err := repo.MarkFailed(ctx, j.ID, "x"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("MarkFailed after cancel err = %v", err)
		}
		if err := repo.Cancel(ctx, j.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("second cancel err = %v", err)
		}
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		cleanup(t)
		j := newTestJob("u1")
		_ = repo.Create(ctx, j)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := repo.MarkProcessing(ctx, j.ID); ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("wins = %d, want 1", wins)
		}
	})

	t.Run("listing", func(t *testing.T) {
		cleanup(t)
		older := newTestJob("u1")
		older.CreatedAt = time.Now().Add(-time.Hour)
		newer := newTestJob("u1")
		_ = repo.Create(ctx, older)
		_ = repo.Create(ctx, newer)

		pending, err := repo.ListPending(ctx, nil, 10)
		if err != nil || len(pending) != 2 || pending[0].ID != older.ID {
			t.Fatalf("ListPending = %v, %v", pending, err)
		}
		pending, _ = repo.ListPending(ctx, []string{older.ID}, 10)
		if len(pending) != 1 || pending[0].ID != newer.ID {
			t.Fatalf("exclusion failed: %v", pending)
		}

		list, _ := repo.ListByOwner(ctx, "u1", 10)
		if len(list) != 2 || list[0].ID != newer.ID {
			t.Fatalf("ListByOwner order wrong: %v", list)
		}
		counts, _ := repo.CountByStatus(ctx)
		if counts[model.JobStatusPending] != 2 {
			t.Fatalf("counts = %v", counts)
		}
	})
}
