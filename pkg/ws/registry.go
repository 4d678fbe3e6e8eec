package ws

import "sync"

// SubscriptionRegistry maps canonical subscription keys to sets of live
// connections. Publish takes a snapshot before iterating so concurrent
// disconnects never invalidate an in-flight fan-out.
type SubscriptionRegistry struct {
	mu sync.RWMutex
	// subs: key → set of connections
	subs map[string]map[*Conn]struct{}
	// keys: connection → set of keys, for O(1) cleanup on disconnect
	keys map[*Conn]map[string]struct{}
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[string]map[*Conn]struct{}),
		keys: make(map[*Conn]map[string]struct{}),
	}
}

// Add registers a connection under a key. Idempotent.
func (r *SubscriptionRegistry) Add(key string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[key] == nil {
		r.subs[key] = make(map[*Conn]struct{})
	}
	r.subs[key][c] = struct{}{}

	if r.keys[c] == nil {
		r.keys[c] = make(map[string]struct{})
	}
	r.keys[c][key] = struct{}{}
}

// Remove drops one subscription. Empty key sets are deleted.
func (r *SubscriptionRegistry) Remove(key string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key, c)
}

// RemoveConn drops every subscription held by a connection. Called on
// disconnect and on failed sends.
func (r *SubscriptionRegistry) RemoveConn(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.keys[c] {
		r.removeLocked(key, c)
	}
}

func (r *SubscriptionRegistry) removeLocked(key string, c *Conn) {
	if set, ok := r.subs[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.subs, key)
		}
	}
	if set, ok := r.keys[c]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(r.keys, c)
		}
	}
}

// Snapshot returns a copy of the subscriber set for a key. The copy is safe
// to iterate while other goroutines mutate the registry.
func (r *SubscriptionRegistry) Snapshot(key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.subs[key]
	if !ok {
		return nil
	}
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the number of subscribers for a key.
func (r *SubscriptionRegistry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[key])
}
