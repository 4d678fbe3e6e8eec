package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dineseek/dineseek/pkg/models"
)

// jobKeyPrefix namespaces job records in Redis.
const jobKeyPrefix = "job:"

// terminalRetries bounds the optimistic-lock retry loop. Contention on a
// single job key is two writers at most (runner success vs. timeout path),
// so this never spins in practice.
const terminalRetries = 3

// RedisStore keeps jobs in Redis as JSON values with a TTL. Terminal
// transitions run under WATCH so concurrent completion attempts collapse to
// exactly one winner.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a job store with the given retention.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Init implements Store. SET NX keeps a duplicate requestId from silently
// overwriting another job's ownership.
func (s *RedisStore) Init(ctx context.Context, requestID string, owner models.SessionIdentity) error {
	job := newJob(requestID, owner, s.ttl, time.Now())
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, jobKeyPrefix+requestID, payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to init job %s: %w", requestID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, requestID string) (*models.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKeyPrefix+requestID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", requestID, err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", requestID, err)
	}
	return &job, nil
}

// SetDone implements Store.
func (s *RedisStore) SetDone(ctx context.Context, requestID string, response *models.SearchResponse) error {
	return s.setTerminal(ctx, requestID, func(job *models.Job) {
		job.Status = models.JobDone
		job.Response = response
		job.Failure = nil
	})
}

// SetFailed implements Store.
func (s *RedisStore) SetFailed(ctx context.Context, requestID string, kind, message string) error {
	return s.setTerminal(ctx, requestID, func(job *models.Job) {
		job.Status = models.JobFailed
		job.Failure = &models.JobFailure{Kind: kind, Message: message}
		job.Response = nil
	})
}

// setTerminal applies the transition under WATCH. The TTL is re-armed on the
// terminal write so results stay pollable for the full retention window
// after completion.
func (s *RedisStore) setTerminal(ctx context.Context, requestID string, apply func(*models.Job)) error {
	key := jobKeyPrefix + requestID

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", requestID, err)
		}
		if job.Terminal() {
			return ErrTerminal
		}

		apply(&job)
		job.ExpiresAt = time.Now().UTC().Add(s.ttl)
		payload, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", requestID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < terminalRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under us, re-read and retry
		}
		return err
	}
	return fmt.Errorf("terminal update for job %s kept conflicting", requestID)
}
