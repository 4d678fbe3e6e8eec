package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// wsPollInterval is how often event waiters rescan the buffer.
const wsPollInterval = 25 * time.Millisecond

// WSEvent is one frame received on the test socket.
type WSEvent struct {
	Type     string
	Raw      []byte
	Parsed   map[string]any
	Received time.Time
}

// Payload returns the frame's payload object, or nil when absent.
func (e WSEvent) Payload() map[string]any {
	payload, _ := e.Parsed["payload"].(map[string]any)
	return payload
}

// Str returns a top-level string field of the frame.
func (e WSEvent) Str(key string) string {
	s, _ := e.Parsed[key].(string)
	return s
}

// WSClient wraps a live socket with a background read loop and an event
// buffer the tests assert on.
type WSClient struct {
	t      *testing.T
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	mu     sync.Mutex
	events []WSEvent

	closeOnce sync.Once
}

// DialWS connects to the app's /ws endpoint with a one-time ticket and
// starts the read loop. Close is registered via t.Cleanup.
func DialWS(t *testing.T, app *TestApp, ticket string) *WSClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, app.WSURL+"?ticket="+url.QueryEscape(ticket), nil)
	require.NoError(t, err, "websocket dial failed")

	c := &WSClient{
		t:      t,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.Close)
	return c
}

func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		typ, _ := parsed["type"].(string)

		c.mu.Lock()
		c.events = append(c.events, WSEvent{
			Type:     typ,
			Raw:      data,
			Parsed:   parsed,
			Received: time.Now(),
		})
		c.mu.Unlock()
	}
}

// Send writes one JSON frame to the socket.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)

	writeCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(writeCtx, websocket.MessageText, data))
}

// Subscribe sends a subscribe frame for channel/requestID.
func (c *WSClient) Subscribe(channel, requestID string) {
	c.t.Helper()
	c.Send(map[string]any{"type": "subscribe", "channel": channel, "requestId": requestID})
}

// SendCancel sends the owner cancel event for requestID.
func (c *WSClient) SendCancel(requestID string) {
	c.t.Helper()
	c.Send(map[string]any{
		"type":      "event",
		"channel":   "search",
		"requestId": requestID,
		"payload":   map[string]any{"action": "cancel"},
	})
}

// WaitForEvent polls the buffer until predicate matches or the timeout
// expires.
func (c *WSClient) WaitForEvent(predicate func(WSEvent) bool, timeout time.Duration) (WSEvent, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		for _, ev := range c.events {
			if predicate(ev) {
				c.mu.Unlock()
				return ev, nil
			}
		}
		c.mu.Unlock()

		if time.Now().After(deadline) {
			return WSEvent{}, fmt.Errorf("no matching event within %v (have %d events)", timeout, c.eventCount())
		}
		time.Sleep(wsPollInterval)
	}
}

// WaitForType waits for the first event with the given frame type.
func (c *WSClient) WaitForType(typ string, timeout time.Duration) (WSEvent, error) {
	return c.WaitForEvent(func(ev WSEvent) bool { return ev.Type == typ }, timeout)
}

// RequireEvent is WaitForEvent that fails the test on timeout.
func (c *WSClient) RequireEvent(predicate func(WSEvent) bool, timeout time.Duration, msgAndArgs ...any) WSEvent {
	c.t.Helper()
	ev, err := c.WaitForEvent(predicate, timeout)
	require.NoError(c.t, err, msgAndArgs...)
	return ev
}

// RequireType is WaitForType that fails the test on timeout.
func (c *WSClient) RequireType(typ string, timeout time.Duration) WSEvent {
	c.t.Helper()
	ev, err := c.WaitForType(typ, timeout)
	require.NoError(c.t, err, "expected a %q frame", typ)
	return ev
}

// AssertNoEvent asserts that no matching frame arrives within window.
func (c *WSClient) AssertNoEvent(predicate func(WSEvent) bool, window time.Duration, msg string) {
	c.t.Helper()
	ev, err := c.WaitForEvent(predicate, window)
	if err == nil {
		c.t.Fatalf("%s: got unexpected frame %s", msg, string(ev.Raw))
	}
}

// Events returns a snapshot of everything received so far, in arrival order.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsByType returns the buffered events with the given type.
func (c *WSClient) EventsByType(typ string) []WSEvent {
	var out []WSEvent
	for _, ev := range c.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *WSClient) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Close tears down the socket and waits for the read loop to exit. Safe to
// call more than once.
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		<-c.doneCh
	})
}
