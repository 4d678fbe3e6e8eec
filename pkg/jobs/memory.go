package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/dineseek/dineseek/pkg/models"
)

// MemoryStore is the in-process job store used in development without Redis
// and in unit tests. Semantics match RedisStore, including TTL expiry and
// write-once terminal transitions.
type MemoryStore struct {
	mu   sync.RWMutex
	ttl  time.Duration
	jobs map[string]*models.Job

	// now is a test hook.
	now func() time.Time
}

// NewMemoryStore creates an in-process job store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:  ttl,
		jobs: make(map[string]*models.Job),
		now:  time.Now,
	}
}

// Init implements Store.
func (s *MemoryStore) Init(_ context.Context, requestID string, owner models.SessionIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.jobs[requestID]; ok {
		return ErrAlreadyExists
	}
	s.jobs[requestID] = newJob(requestID, owner, s.ttl, s.now())
	return nil
}

// Get implements Store. Expired entries are indistinguishable from missing.
func (s *MemoryStore) Get(_ context.Context, requestID string) (*models.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[requestID]
	s.mu.RUnlock()

	if !ok || s.now().After(job.ExpiresAt) {
		return nil, ErrNotFound
	}

	copied := *job
	return &copied, nil
}

// SetDone implements Store.
func (s *MemoryStore) SetDone(_ context.Context, requestID string, response *models.SearchResponse) error {
	return s.setTerminal(requestID, func(job *models.Job) {
		job.Status = models.JobDone
		job.Response = response
		job.Failure = nil
	})
}

// SetFailed implements Store.
func (s *MemoryStore) SetFailed(_ context.Context, requestID string, kind, message string) error {
	return s.setTerminal(requestID, func(job *models.Job) {
		job.Status = models.JobFailed
		job.Failure = &models.JobFailure{Kind: kind, Message: message}
		job.Response = nil
	})
}

func (s *MemoryStore) setTerminal(requestID string, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[requestID]
	if !ok || s.now().After(job.ExpiresAt) {
		return ErrNotFound
	}
	if job.Terminal() {
		return ErrTerminal
	}

	apply(job)
	job.ExpiresAt = s.now().UTC().Add(s.ttl)
	return nil
}

// sweepLocked drops expired jobs. Called with the write lock held.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, job := range s.jobs {
		if now.After(job.ExpiresAt) {
			delete(s.jobs, id)
		}
	}
}
