package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dineseek/dineseek/pkg/metrics"
)

// BacklogEntry is one undelivered message waiting for a subscriber.
type BacklogEntry struct {
	Key        string
	Channel    string
	RequestID  string
	Message    []byte
	EnqueuedAt time.Time
}

// BacklogManager holds per-subscription FIFOs of messages published before a
// subscriber attached. Caps: per key the oldest entry is dropped, globally
// the newest (incoming) entry is dropped. Entries expire after the TTL;
// expiry is enforced lazily on enqueue and drain.
type BacklogManager struct {
	mu      sync.Mutex
	queues  map[string][]BacklogEntry
	total   int
	perKey  int
	global  int
	ttl     time.Duration
	lastGC  time.Time

	// now is a test hook.
	now func() time.Time
}

// NewBacklogManager creates a backlog with the given caps and TTL.
func NewBacklogManager(perKeyCap, globalCap int, ttl time.Duration) *BacklogManager {
	return &BacklogManager{
		queues: make(map[string][]BacklogEntry),
		perKey: perKeyCap,
		global: globalCap,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enqueue appends a message to the key's FIFO, enforcing caps. Returns false
// when the message was dropped by the global cap.
func (b *BacklogManager) Enqueue(key, channel, requestID string, message []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireLocked()

	queue := b.queues[key]
	if len(queue) >= b.perKey {
		// Per-key overflow: drop the oldest so the newest state wins.
		slog.Warn("Backlog per-key cap reached, dropping oldest entry",
			"subscription_key", key, "cap", b.perKey)
		metrics.BacklogDropped("per_key_cap")
		queue = queue[1:]
		b.total--
	} else if b.total >= b.global {
		// Global overflow: refuse the incoming message. Live subscribers
		// are unaffected; only backlogged delivery degrades.
		slog.Warn("Backlog global cap reached, dropping newest entry",
			"subscription_key", key, "cap", b.global)
		metrics.BacklogDropped("global_cap")
		return false
	}

	b.queues[key] = append(queue, BacklogEntry{
		Key:        key,
		Channel:    channel,
		RequestID:  requestID,
		Message:    message,
		EnqueuedAt: b.now(),
	})
	b.total++
	return true
}

// Drain removes and returns the key's entries in enqueue order.
func (b *BacklogManager) Drain(key string) []BacklogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireLocked()

	queue, ok := b.queues[key]
	if !ok {
		return nil
	}
	delete(b.queues, key)
	b.total -= len(queue)
	return queue
}

// Len returns the total number of backlogged entries across all keys.
func (b *BacklogManager) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// KeyLen returns the backlog depth for one key.
func (b *BacklogManager) KeyLen(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[key])
}

// CleanupExpired runs the lazy TTL sweep immediately.
func (b *BacklogManager) CleanupExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
}

// maybeExpireLocked throttles the TTL sweep to once per second so the
// enqueue and drain hot paths do not scan every queue on every call.
func (b *BacklogManager) maybeExpireLocked() {
	if b.now().Sub(b.lastGC) < time.Second {
		return
	}
	b.expireLocked()
}

// expireLocked drops entries older than the TTL. Called with the mutex held.
func (b *BacklogManager) expireLocked() {
	now := b.now()
	b.lastGC = now

	cutoff := now.Add(-b.ttl)
	for key, queue := range b.queues {
		kept := queue[:0]
		for _, entry := range queue {
			if entry.EnqueuedAt.After(cutoff) {
				kept = append(kept, entry)
			} else {
				b.total--
				metrics.BacklogDropped("expired")
			}
		}
		if len(kept) == 0 {
			delete(b.queues, key)
		} else {
			b.queues[key] = kept
		}
	}
}
