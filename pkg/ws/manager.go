package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/jobs"
	"github.com/dineseek/dineseek/pkg/models"
)

// Canceller aborts a running job. Implemented by the search runner; the
// manager calls it when a verified owner sends a cancel event.
type Canceller interface {
	Cancel(requestID string) bool
}

// Manager owns connection lifecycles and the subscribe protocol. Publishing
// goes through the embedded Publisher, which the pipeline side receives as
// an EventPublisher.
type Manager struct {
	cfg       config.WSConfig
	jobs      jobs.Store
	registry  *SubscriptionRegistry
	backlog   *BacklogManager
	pending   *PendingSubscriptions
	publisher *Publisher

	mu    sync.RWMutex
	conns map[string]*Conn

	canceller Canceller
}

// NewManager builds the fan-out layer over the given job store.
func NewManager(cfg config.WSConfig, store jobs.Store) *Manager {
	registry := NewSubscriptionRegistry()
	backlog := NewBacklogManager(cfg.BacklogPerKeyCap, cfg.BacklogGlobalCap, cfg.BacklogTTL)
	return &Manager{
		cfg:       cfg,
		jobs:      store,
		registry:  registry,
		backlog:   backlog,
		pending:   NewPendingSubscriptions(cfg.PendingTTL),
		publisher: NewPublisher(registry, backlog),
		conns:     make(map[string]*Conn),
	}
}

// Publisher exposes the shared publisher for the pipeline side.
func (m *Manager) Publisher() *Publisher {
	return m.publisher
}

// SetCanceller wires the job canceller. Called once during startup.
func (m *Manager) SetCanceller(c Canceller) {
	m.canceller = c
}

// ConnCount returns the number of live connections.
func (m *Manager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// HandleConnection runs the read loop for an accepted socket until the
// client disconnects, the idle deadline passes, or the server shuts down.
// The identity was authenticated during the handshake and anchors every
// owner check on this connection.
func (m *Manager) HandleConnection(ctx context.Context, sock *websocket.Conn, identity models.SessionIdentity) {
	connCtx, cancel := context.WithCancel(ctx)
	conn := &Conn{
		ID:           uuid.NewString(),
		identity:     identity,
		sock:         sock,
		ctx:          connCtx,
		cancel:       cancel,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.cfg.SubscribesPerMinute)), m.cfg.SubscribesPerMinute),
		writeTimeout: m.cfg.WriteTimeout,
	}

	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()
	defer m.unregister(conn)

	slog.Info("WebSocket client connected",
		"connection_id", conn.ID, "session_id", identity.SessionID)

	sock.SetReadLimit(m.cfg.MaxFrameBytes)
	go m.pingLoop(conn)

	for {
		readCtx, cancelRead := context.WithTimeout(connCtx, m.cfg.IdleTimeout)
		_, data, err := sock.Read(readCtx)
		cancelRead()
		if err != nil {
			m.closeOnReadError(conn, err)
			return
		}
		m.handleMessage(connCtx, conn, data)
	}
}

// pingLoop keeps the connection alive and detects dead peers. A failed ping
// cancels the connection context, which unblocks the read loop.
func (m *Manager) pingLoop(conn *Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(conn.ctx, m.cfg.WriteTimeout)
			err := conn.sock.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed, dropping client",
					"connection_id", conn.ID, "error", err)
				conn.cancel()
				return
			}
		}
	}
}

// closeOnReadError maps a read-loop exit onto the right close code. Client
// closes and server shutdown need no frame; idle timeouts close with 1001.
func (m *Manager) closeOnReadError(conn *Conn, err error) {
	switch {
	case websocket.CloseStatus(err) != -1:
		slog.Debug("WebSocket client disconnected",
			"connection_id", conn.ID, "close_status", websocket.CloseStatus(err))
	case errors.Is(err, context.DeadlineExceeded) && conn.ctx.Err() == nil:
		slog.Info("Closing idle WebSocket connection", "connection_id", conn.ID)
		_ = conn.sock.Close(websocket.StatusGoingAway, "idle timeout")
	case conn.ctx.Err() != nil:
		slog.Debug("WebSocket connection context cancelled", "connection_id", conn.ID)
	default:
		slog.Warn("WebSocket read failed",
			"connection_id", conn.ID, "error", err)
	}
}

// handleMessage parses one client frame and dispatches on type. Unparseable
// frames are logged and dropped; the protocol has no error reply for them.
func (m *Manager) handleMessage(ctx context.Context, conn *Conn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Dropping malformed WebSocket message",
			"connection_id", conn.ID, "error", err)
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		m.handleSubscribe(ctx, conn, &msg)
	case TypeUnsubscribe:
		m.handleUnsubscribe(conn, &msg)
	case TypeEvent:
		m.handleClientEvent(ctx, conn, &msg)
	default:
		slog.Warn("Unknown WebSocket message type",
			"connection_id", conn.ID, "message_type", msg.Type)
	}
}

// handleSubscribe runs the subscribe protocol: normalize, rate limit, owner
// check, then ack plus backlog catch-up, or park the subscription when the
// job does not exist yet.
func (m *Manager) handleSubscribe(ctx context.Context, conn *Conn, msg *ClientMessage) {
	// Step 1: Normalize the requestId across current and legacy field shapes
	requestID := msg.NormalizedRequestID()
	channel := msg.Channel
	if requestID == "" || (channel != ChannelSearch && channel != ChannelAssistant) {
		m.sendFrame(conn, NewSubNack(channel, requestID, NackInvalid))
		return
	}

	// Step 2: Per-socket subscribe rate limit
	if !conn.allowSubscribe() {
		slog.Warn("Subscribe rate limit exceeded",
			"connection_id", conn.ID, "session_id", conn.SessionID())
		m.sendFrame(conn, NewSubNack(channel, requestID, NackRateLimitExceeded))
		return
	}

	// Step 3: Resolve the job for the owner check
	job, err := m.jobs.Get(ctx, requestID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		// Job not created yet. Park the subscription; OnJobCreated resolves
		// it, or the pending TTL quietly expires it.
		m.pending.Add(requestID, channel, conn)
		m.sendFrame(conn, NewSubAck(channel, requestID, true))
		slog.Info("Parked pending subscription",
			"connection_id", conn.ID, "subscription_key", SubscriptionKey(channel, requestID))
		return
	case err != nil:
		slog.Error("Job lookup failed during subscribe",
			"connection_id", conn.ID, "request_id", requestID, "error", err)
		m.sendFrame(conn, NewSubNack(channel, requestID, NackInvalid))
		return
	}

	// Step 4: Owner check. The frame carries no hint whether the job exists.
	if job.OwnerSessionID != conn.SessionID() {
		slog.Warn("Subscribe rejected for foreign session",
			"connection_id", conn.ID, "request_id", requestID)
		m.sendFrame(conn, NewSubNack(channel, requestID, NackSessionMismatch))
		return
	}

	// Step 5: Activate and catch up
	m.activate(conn, channel, job)
}

// activate registers the subscription, acks it, drains the backlog in order
// and replays the terminal state when the job already finished and the
// terminal frame is no longer backlogged.
func (m *Manager) activate(conn *Conn, channel string, job *models.Job) {
	key := SubscriptionKey(channel, job.RequestID)
	m.registry.Add(key, conn)
	m.sendFrame(conn, NewSubAck(channel, job.RequestID, false))

	sawTerminal := false
	for _, entry := range m.backlog.Drain(key) {
		if err := conn.send(entry.Message); err != nil {
			slog.Warn("Backlog catch-up write failed",
				"connection_id", conn.ID, "subscription_key", key, "error", err)
			conn.cancel()
			return
		}
		if frameType(entry.Message) == TypeReady || frameType(entry.Message) == TypeError {
			sawTerminal = true
		}
	}

	if channel == ChannelSearch && job.Terminal() && !sawTerminal {
		m.replayTerminal(conn, job)
	}
}

// replayTerminal synthesizes the terminal frame for a finished job so late
// subscribers still learn the outcome after the backlog TTL.
func (m *Manager) replayTerminal(conn *Conn, job *models.Job) {
	switch job.Status {
	case models.JobDone:
		count := 0
		if job.Response != nil {
			count = job.Response.Meta.ResultCount
		}
		m.sendFrame(conn, NewReady(job.RequestID, models.ResultPath(job.RequestID), count))
	case models.JobFailed:
		kind, message := "INTERNAL_ERROR", "search failed"
		if job.Failure != nil {
			kind, message = job.Failure.Kind, job.Failure.Message
		}
		m.sendFrame(conn, NewErrorFrame(job.RequestID, "pipeline", kind, message))
	}
}

func (m *Manager) handleUnsubscribe(conn *Conn, msg *ClientMessage) {
	requestID := msg.NormalizedRequestID()
	if requestID == "" || msg.Channel == "" {
		return
	}
	m.registry.Remove(SubscriptionKey(msg.Channel, requestID), conn)
}

// handleClientEvent handles inbound application events. The only supported
// action is owner-initiated cancellation of a running search.
func (m *Manager) handleClientEvent(ctx context.Context, conn *Conn, msg *ClientMessage) {
	var payload struct {
		Action string `json:"action"`
	}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			slog.Warn("Dropping malformed event payload",
				"connection_id", conn.ID, "error", err)
			return
		}
	}
	if payload.Action != "cancel" {
		slog.Debug("Ignoring unsupported client event",
			"connection_id", conn.ID, "action", payload.Action)
		return
	}

	requestID := msg.NormalizedRequestID()
	if requestID == "" {
		return
	}

	// Cancellation is owner-only and silent on failure, like the 404-opaque
	// result endpoint.
	job, err := m.jobs.Get(ctx, requestID)
	if err != nil {
		slog.Debug("Cancel ignored, job unknown", "request_id", requestID)
		return
	}
	if job.OwnerSessionID != conn.SessionID() {
		slog.Warn("Cancel rejected for foreign session",
			"connection_id", conn.ID, "request_id", requestID)
		return
	}
	if m.canceller != nil && m.canceller.Cancel(requestID) {
		slog.Info("Search cancelled by owner",
			"request_id", requestID, "session_id", conn.SessionID())
	}
}

// OnJobCreated resolves pending subscriptions parked on the new job's
// requestId. The runner calls this right after the job record is created.
func (m *Manager) OnJobCreated(job *models.Job) {
	waiters := m.pending.Take(job.RequestID)
	for _, w := range waiters {
		if w.Conn.ctx.Err() != nil {
			continue
		}
		if job.OwnerSessionID != w.Conn.SessionID() {
			slog.Warn("Pending subscription rejected for foreign session",
				"connection_id", w.Conn.ID, "request_id", job.RequestID)
			m.sendFrame(w.Conn, NewSubNack(w.Channel, job.RequestID, NackSessionMismatch))
			continue
		}
		m.activate(w.Conn, w.Channel, job)
	}
}

// Close disconnects every client. Used during shutdown after the HTTP
// listener stops accepting upgrades.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.sock.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
	slog.Info("WebSocket manager closed", "connections_closed", len(conns))
}

func (m *Manager) unregister(conn *Conn) {
	m.registry.RemoveConn(conn)
	m.pending.RemoveConn(conn)

	m.mu.Lock()
	delete(m.conns, conn.ID)
	m.mu.Unlock()

	conn.cancel()
	_ = conn.sock.Close(websocket.StatusNormalClosure, "")
	slog.Info("WebSocket client disconnected", "connection_id", conn.ID)
}

// sendFrame writes a control frame, dropping the connection on failure.
func (m *Manager) sendFrame(conn *Conn, frame any) {
	if err := conn.sendJSON(frame); err != nil {
		slog.Warn("Control frame write failed, dropping client",
			"connection_id", conn.ID, "error", err)
		conn.cancel()
	}
}

// frameType peeks at the type discriminator of a marshalled frame.
func frameType(data []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Type
}
