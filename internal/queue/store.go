package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is an in-memory job store with TTL support. It hands out copies, so
// callers never share a *Job with the worker.
type Store struct {
	jobs           map[string]*Job
	idempotencyMap map[string]string // idempotency_key -> job_id
	mu             sync.RWMutex
	logger         *zap.Logger

	stopOnce    sync.Once
	stopCleanup chan struct{}
	done        chan struct{}
}

// NewStore creates a new job store that purges expired jobs every interval.
func NewStore(interval time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		jobs:           make(map[string]*Job),
		idempotencyMap: make(map[string]string),
		logger:         logger,
		stopCleanup:    make(chan struct{}),
		done:           make(chan struct{}),
	}

	go s.cleanupLoop(interval)

	return s
}

func (s *Store) cleanupLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired jobs
func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for jobID, job := range s.jobs {
		if job.IsExpired() {
			if job.IdempotencyKey != "" {
				delete(s.idempotencyMap, job.IdempotencyKey)
			}
			delete(s.jobs, jobID)
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Info("Cleaned up expired jobs", zap.Int("count", deleted))
	}
	return deleted
}

// Stop stops the cleanup goroutine and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	<-s.done
}

// Save saves a job to the store
func (s *Store) Save(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.clone()
	if job.IdempotencyKey != "" {
		s.idempotencyMap[job.IdempotencyKey] = job.ID
	}
}

// GetByIdempotencyKey retrieves a job by idempotency key
func (s *Store) GetByIdempotencyKey(key string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, exists := s.idempotencyMap[key]
	if !exists {
		return nil, false
	}
	job, exists := s.jobs[jobID]
	if !exists || job.IsExpired() {
		return nil, false
	}
	return job.clone(), true
}

// Get retrieves a copy of a job by ID
func (s *Store) Get(jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return job.clone(), nil
}

// Mutate applies fn to the stored job under the store lock and returns a copy
// of the result. An error from fn leaves the job untouched.
func (s *Store) Mutate(jobID string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	next := job.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[jobID] = next
	return next.clone(), nil
}

func (s *Store) lookup(jobID string) (*Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.IsExpired() {
		return nil, fmt.Errorf("%w: %s", ErrJobExpired, jobID)
	}
	return job, nil
}

// Delete removes a job from the store
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobID]; ok && job.IdempotencyKey != "" {
		delete(s.idempotencyMap, job.IdempotencyKey)
	}
	delete(s.jobs, jobID)
}

// List returns copies of all live jobs, newest first.
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.IsExpired() {
			jobs = append(jobs, job.clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt != jobs[j].CreatedAt {
			return jobs[i].CreatedAt > jobs[j].CreatedAt
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// ToJSON serializes a job to JSON
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON deserializes a job from JSON
func FromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
