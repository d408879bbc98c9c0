package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var (
	_ repository.ErrorEventRepository = (*ErrorEventRepo)(nil)
	_ repository.ActivityRepository   = (*ActivityRepo)(nil)
)

type ErrorEventRepo struct {
	mu     sync.Mutex
	events []*model.ErrorEvent
}

func NewErrorEventRepo() *ErrorEventRepo { return &ErrorEventRepo{} }

func (r *ErrorEventRepo) Upsert(_ context.Context, ev *model.ErrorEvent) (*model.ErrorEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ev.DedupKey()
	cutoff := ev.LastOccurred.Add(-model.ErrorDedupWindow)
	for _, cur := range r.events {
		if cur.DedupKey() != key || cur.LastOccurred.Before(cutoff) {
			continue
		}
		cur.OccurrenceCount++
		cur.LastOccurred = ev.LastOccurred
		cur.Severity = ev.Severity
		if ev.StackTrace != nil {
			cur.StackTrace = ev.StackTrace
		}
		cp := *cur
		return &cp, nil
	}
	cp := *ev
	r.events = append(r.events, &cp)
	out := cp
	return &out, nil
}

func (r *ErrorEventRepo) ListUnresolved(_ context.Context, limit int) ([]*model.ErrorEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ErrorEvent
	for _, ev := range r.events {
		if ev.IsResolved {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LastOccurred.After(out[b].LastOccurred) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ErrorEventRepo) Resolve(_ context.Context, id, resolvedBy, resolution string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID != id {
			continue
		}
		now := time.Now()
		ev.IsResolved = true
		ev.ResolvedAt = &now
		ev.ResolvedBy = &resolvedBy
		ev.Resolution = &resolution
		return nil
	}
	return domain.ErrNotFound
}

// Events returns a snapshot, newest last.
func (r *ErrorEventRepo) Events() []model.ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ErrorEvent, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, *ev)
	}
	return out
}

type ActivityRepo struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func NewActivityRepo() *ActivityRepo { return &ActivityRepo{} }

func (r *ActivityRepo) Append(_ context.Context, ev *model.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *ActivityRepo) Events() []model.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ActivityEvent(nil), r.events...)
}
