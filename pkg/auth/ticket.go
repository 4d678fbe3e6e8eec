package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dineseek/dineseek/pkg/models"
)

// ticketKeyPrefix namespaces handshake tickets in Redis.
const ticketKeyPrefix = "ws_ticket:"

// TicketStore issues and consumes one-time WebSocket handshake tickets.
// A ticket is valid for a short TTL and for exactly one consume.
type TicketStore interface {
	// Create mints a ticket bound to the identity.
	Create(ctx context.Context, identity models.SessionIdentity) (string, error)
	// Consume redeems a ticket. A second consume of the same id fails with
	// ErrTicketInvalid, as do expired, unknown and malformed ids.
	Consume(ctx context.Context, id string) (models.SessionIdentity, error)
}

// ticketPayload is the stored ticket body.
type ticketPayload struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisTicketStore keeps tickets in Redis under ws_ticket:<id>.
type RedisTicketStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisTicketStore creates a ticket store on the given client.
func NewRedisTicketStore(rdb *redis.Client, ttl time.Duration) *RedisTicketStore {
	return &RedisTicketStore{rdb: rdb, ttl: ttl}
}

// Create implements TicketStore.
func (s *RedisTicketStore) Create(ctx context.Context, identity models.SessionIdentity) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(ticketPayload{
		SessionID: identity.SessionID,
		UserID:    identity.UserID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket: %w", err)
	}

	if err := s.rdb.Set(ctx, ticketKeyPrefix+id, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store ticket: %w", err)
	}
	return id, nil
}

// Consume implements TicketStore. GETDEL makes the read and the invalidation
// a single atomic step, so concurrent consumers race to at most one winner.
func (s *RedisTicketStore) Consume(ctx context.Context, id string) (models.SessionIdentity, error) {
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return models.SessionIdentity{}, ErrTicketInvalid
	}

	raw, err := s.rdb.GetDel(ctx, ticketKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return models.SessionIdentity{}, ErrTicketInvalid
	}
	if err != nil {
		return models.SessionIdentity{}, fmt.Errorf("failed to consume ticket: %w", err)
	}

	var payload ticketPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.SessionID == "" {
		return models.SessionIdentity{}, ErrTicketInvalid
	}
	return models.SessionIdentity{SessionID: payload.SessionID, UserID: payload.UserID}, nil
}

// MemoryTicketStore is the in-process fallback used in development when no
// Redis is configured. Semantics match RedisTicketStore.
type MemoryTicketStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	tickets map[string]memoryTicket

	// now is a test hook.
	now func() time.Time
}

type memoryTicket struct {
	identity  models.SessionIdentity
	expiresAt time.Time
}

// NewMemoryTicketStore creates an in-process ticket store.
func NewMemoryTicketStore(ttl time.Duration) *MemoryTicketStore {
	return &MemoryTicketStore{
		ttl:     ttl,
		tickets: make(map[string]memoryTicket),
		now:     time.Now,
	}
}

// Create implements TicketStore.
func (s *MemoryTicketStore) Create(_ context.Context, identity models.SessionIdentity) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.tickets[id] = memoryTicket{identity: identity, expiresAt: s.now().Add(s.ttl)}
	return id, nil
}

// Consume implements TicketStore.
func (s *MemoryTicketStore) Consume(_ context.Context, id string) (models.SessionIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return models.SessionIdentity{}, ErrTicketInvalid
	}
	delete(s.tickets, id)
	if s.now().After(ticket.expiresAt) {
		return models.SessionIdentity{}, ErrTicketInvalid
	}
	return ticket.identity, nil
}

// sweepLocked drops expired tickets. Called with the mutex held.
func (s *MemoryTicketStore) sweepLocked() {
	now := s.now()
	for id, ticket := range s.tickets {
		if now.After(ticket.expiresAt) {
			delete(s.tickets, id)
		}
	}
}
