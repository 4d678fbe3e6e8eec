package models

import "time"

// JobStatus is the lifecycle state of an async search job.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// JobFailure records why a job failed. Kind is drawn from the closed
// pipeline error taxonomy.
type JobFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the authoritative record of an async search: ownership, state and
// (once terminal) the result. Jobs live in the store under a TTL; expiry is
// indistinguishable from "never existed".
//
// Invariants: OwnerSessionID is set at creation and never changes; the
// transition out of PENDING happens exactly once.
type Job struct {
	RequestID      string          `json:"requestId"`
	Status         JobStatus       `json:"status"`
	OwnerSessionID string          `json:"ownerSessionId"`
	OwnerUserID    string          `json:"ownerUserId,omitempty"`
	Response       *SearchResponse `json:"response,omitempty"`
	Failure        *JobFailure     `json:"failure,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// Terminal reports whether the job has reached DONE or FAILED.
func (j *Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}
