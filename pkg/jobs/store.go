// Package jobs persists async search jobs: ownership, lifecycle state and
// the terminal result. The store is authoritative for the IDOR check on the
// polling endpoint and for the owner check on WebSocket subscribe.
//
// Lifecycle: Init(PENDING) → exactly one of SetDone or SetFailed → TTL
// expiry. Terminal writes are write-once; a second completion attempt
// returns ErrTerminal and callers treat it as already-completed.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dineseek/dineseek/pkg/models"
)

var (
	// ErrNotFound means the job does not exist or has expired. Callers must
	// not distinguish the two.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists means Init was called twice for the same requestId.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrTerminal means the job already reached DONE or FAILED.
	ErrTerminal = errors.New("job already terminal")
)

// Store is the job store consumed by the runner, the WebSocket manager and
// the HTTP result endpoint.
type Store interface {
	// Init creates the job in PENDING state with the given owner.
	Init(ctx context.Context, requestID string, owner models.SessionIdentity) error

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, requestID string) (*models.Job, error)

	// SetDone transitions PENDING → DONE with the response.
	SetDone(ctx context.Context, requestID string, response *models.SearchResponse) error

	// SetFailed transitions PENDING → FAILED with the failure kind and message.
	SetFailed(ctx context.Context, requestID string, kind, message string) error
}

// newJob builds the initial PENDING record.
func newJob(requestID string, owner models.SessionIdentity, ttl time.Duration, now time.Time) *models.Job {
	return &models.Job{
		RequestID:      requestID,
		Status:         models.JobPending,
		OwnerSessionID: owner.SessionID,
		OwnerUserID:    owner.UserID,
		CreatedAt:      now.UTC(),
		ExpiresAt:      now.UTC().Add(ttl),
	}
}
