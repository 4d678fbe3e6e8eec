package ws

import (
	"sync"
	"time"
)

// pendingWaiter is a connection that subscribed to a request before the job
// was created. It is parked until OnJobCreated resolves ownership.
type pendingWaiter struct {
	Conn      *Conn
	Channel   string
	CreatedAt time.Time
}

// PendingSubscriptions parks early subscribers by requestId. Entries expire
// after the TTL; expiry is enforced lazily on insert and take.
type PendingSubscriptions struct {
	mu      sync.Mutex
	waiters map[string][]pendingWaiter
	ttl     time.Duration

	// now is a test hook.
	now func() time.Time
}

// NewPendingSubscriptions creates a pending set with the given TTL.
func NewPendingSubscriptions(ttl time.Duration) *PendingSubscriptions {
	return &PendingSubscriptions{
		waiters: make(map[string][]pendingWaiter),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add parks a connection waiting for the job behind requestID to appear.
// Adding the same conn and channel twice keeps a single waiter.
func (p *PendingSubscriptions) Add(requestID, channel string, conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()

	for _, w := range p.waiters[requestID] {
		if w.Conn == conn && w.Channel == channel {
			return
		}
	}
	p.waiters[requestID] = append(p.waiters[requestID], pendingWaiter{
		Conn:      conn,
		Channel:   channel,
		CreatedAt: p.now(),
	})
}

// Take removes and returns all waiters parked on requestID.
func (p *PendingSubscriptions) Take(requestID string) []pendingWaiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()

	waiters, ok := p.waiters[requestID]
	if !ok {
		return nil
	}
	delete(p.waiters, requestID)
	return waiters
}

// RemoveConn drops every waiter belonging to a disconnected connection.
func (p *PendingSubscriptions) RemoveConn(conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for requestID, waiters := range p.waiters {
		kept := waiters[:0]
		for _, w := range waiters {
			if w.Conn != conn {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(p.waiters, requestID)
		} else {
			p.waiters[requestID] = kept
		}
	}
}

// Len returns the number of requestIds with parked waiters.
func (p *PendingSubscriptions) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func (p *PendingSubscriptions) expireLocked() {
	cutoff := p.now().Add(-p.ttl)
	for requestID, waiters := range p.waiters {
		kept := waiters[:0]
		for _, w := range waiters {
			if w.CreatedAt.After(cutoff) {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(p.waiters, requestID)
		} else {
			p.waiters[requestID] = kept
		}
	}
}
