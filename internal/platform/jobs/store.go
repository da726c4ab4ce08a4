package jobs

import (
	"context"
	"sync"
	"time"
)

// Store defines the persistence interface for jobs.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	// DeleteFinishedBefore removes finished jobs whose FinishedAt is before t.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}

// ---------------------------------------------------------------------------
// InMemoryStore
// ---------------------------------------------------------------------------

// InMemoryStore is a thread-safe, in-memory implementation of Store. Jobs
// are copied on the way in and out so callers never share state.
type InMemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{jobs: make(map[string]*Job)}
}

func (s *InMemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *InMemoryStore) DeleteFinishedBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, job := range s.jobs {
		if job.State.Finished() && job.FinishedAt != nil && job.FinishedAt.Before(t) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored jobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
