package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/dineseek/dineseek/pkg/models"
)

// Conn is one authenticated WebSocket client. The identity attached at
// handshake is the authorization anchor for every subsequent subscribe.
type Conn struct {
	ID       string
	identity models.SessionIdentity

	sock   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	// limiter is the per-socket subscribe token bucket. No cross-socket
	// sharing.
	limiter *rate.Limiter

	writeTimeout time.Duration
}

// SessionID returns the canonical session identity bound at handshake.
func (c *Conn) SessionID() string {
	return c.identity.SessionID
}

// send writes raw bytes with the configured write timeout.
func (c *Conn) send(data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return c.sock.Write(writeCtx, websocket.MessageText, data)
}

// sendJSON marshals and sends a frame.
func (c *Conn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(data)
}

// allowSubscribe consumes one token from the subscribe bucket.
func (c *Conn) allowSubscribe() bool {
	return c.limiter.Allow()
}
