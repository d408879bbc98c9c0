// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

type Task func(ctx context.Context)

// TaskSet runs at most n keyed tasks at a time and remembers which keys are
// held, so a poller can exclude them from its next query.
type TaskSet struct {
	sem  *semaphore.Weighted
	n    int
	mu   sync.Mutex
	held map[string]struct{}
	wg   sync.WaitGroup
	log  *zerolog.Logger
}

func NewTaskSet(n int, logger *zerolog.Logger) *TaskSet {
	if n <= 0 {
		n = 1
	}
	return &TaskSet{
		sem:  semaphore.NewWeighted(int64(n)),
		n:    n,
		held: make(map[string]struct{}),
		log:  logger,
	}
}

func (s *TaskSet) Cap() int { return s.n }

func (s *TaskSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Held returns the keys currently running, sorted.
func (s *TaskSet) Held() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.held))
	for k := range s.held {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TryStart runs task in its own goroutine unless key is already held or the
// set is full. Panics are recovered and the hold is always released.
func (s *TaskSet) TryStart(ctx context.Context, key string, task Task) bool {
	s.mu.Lock()
	if _, dup := s.held[key]; dup {
		s.mu.Unlock()
		return false
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		return false
	}
	s.held[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Str("job_id", key).Msg("task panicked")
			}
			s.mu.Lock()
			delete(s.held, key)
			s.mu.Unlock()
			s.sem.Release(1)
			s.wg.Done()
		}()
		task(ctx)
	}()
	return true
}

// Wait blocks until every started task has returned.
func (s *TaskSet) Wait() { s.wg.Wait() }
