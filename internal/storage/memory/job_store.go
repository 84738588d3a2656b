// Package memory provides in-process stores for jobs and artifact mirrors.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// JobStore is the in-memory job table. Every mutation goes through the write
// lock and every read returns a deep copy.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	clock crawler.Clock
}

// NewJobStore constructs a JobStore. clock stamps UpdatedAt on each update.
func NewJobStore(clock crawler.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		clock: clock,
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update runs fn against a working copy of the job and commits it only if fn
// succeeds. The committed job is returned.
func (s *JobStore) Update(_ context.Context, jobID string, fn func(*crawler.Job) error) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return crawler.Job{}, err
	}
	if working.ID != jobID {
		return crawler.Job{}, fmt.Errorf("update may not change job id %q", jobID)
	}
	if s.clock != nil {
		working.UpdatedAt = s.clock.Now()
	}
	s.jobs[jobID] = working
	return working.Clone(), nil
}

// Delete removes a job if guard, seeing a copy of it, allows it.
func (s *JobStore) Delete(_ context.Context, jobID string, guard func(crawler.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if guard != nil {
		if err := guard(job.Clone()); err != nil {
			return err
		}
	}
	delete(s.jobs, jobID)
	return nil
}

// List returns every job ordered by creation time, oldest first.
func (s *JobStore) List(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
