package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/jobs"
	"github.com/dineseek/dineseek/pkg/models"
)

func testWSConfig() config.WSConfig {
	return config.WSConfig{
		MaxFrameBytes:       64 * 1024,
		PingInterval:        30 * time.Second,
		IdleTimeout:         15 * time.Minute,
		WriteTimeout:        5 * time.Second,
		TicketTTL:           30 * time.Second,
		BacklogTTL:          120 * time.Second,
		BacklogPerKeyCap:    50,
		BacklogGlobalCap:    10000,
		PendingTTL:          120 * time.Second,
		SubscribesPerMinute: 100,
	}
}

// setupTestManager serves the manager over httptest. The handler takes the
// session identity from the query string, standing in for the ticket
// handshake the API layer performs.
func setupTestManager(t *testing.T, cfg config.WSConfig, store jobs.Store) (*Manager, *httptest.Server) {
	t.Helper()

	manager := NewManager(cfg, store)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		identity := models.SessionIdentity{SessionID: r.URL.Query().Get("session")}
		manager.HandleConnection(r.Context(), sock, identity)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "?session=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// assertNoFrame verifies nothing arrives within a short window.
func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "expected no frame to arrive")
}

func initJob(t *testing.T, store jobs.Store, requestID, sessionID string) *models.Job {
	t.Helper()
	require.NoError(t, store.Init(context.Background(), requestID, models.SessionIdentity{SessionID: sessionID}))
	job, err := store.Get(context.Background(), requestID)
	require.NoError(t, err)
	return job
}

func TestManager_SubscribeOwnJobAcked(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubAck, msg["type"])
	assert.Equal(t, ChannelSearch, msg["channel"])
	assert.Equal(t, "req-1", msg["requestId"])
	assert.Equal(t, false, msg["pending"])
}

func TestManager_SubscribeForeignSessionNacked(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "owner")

	conn := connectWS(t, server, "intruder")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubNack, msg["type"])
	assert.Equal(t, NackSessionMismatch, msg["reason"])
}

func TestManager_SubscribeInvalidChannelNacked(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: "audit", RequestID: "req-1"})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubNack, msg["type"])
	assert.Equal(t, NackInvalid, msg["reason"])
}

func TestManager_SubscribeMissingRequestIDNacked(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubNack, msg["type"])
	assert.Equal(t, NackInvalid, msg["reason"])
}

func TestManager_LegacyRequestIDShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
	}{
		{
			name: "payload requestId",
			msg: map[string]any{
				"type":    TypeSubscribe,
				"channel": ChannelSearch,
				"payload": map[string]any{"requestId": "req-legacy"},
			},
		},
		{
			name: "data requestId",
			msg: map[string]any{
				"type":    TypeSubscribe,
				"channel": ChannelSearch,
				"data":    map[string]any{"requestId": "req-legacy"},
			},
		},
		{
			name: "reqId alias",
			msg: map[string]any{
				"type":    TypeSubscribe,
				"channel": ChannelSearch,
				"reqId":   "req-legacy",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := jobs.NewMemoryStore(5 * time.Minute)
			_, server := setupTestManager(t, testWSConfig(), store)
			initJob(t, store, "req-legacy", "s1")

			conn := connectWS(t, server, "s1")
			writeJSON(t, conn, tt.msg)

			msg := readJSON(t, conn)
			assert.Equal(t, TypeSubAck, msg["type"])
			assert.Equal(t, "req-legacy", msg["requestId"])
		})
	}
}

func TestManager_PublishReachesSubscriber(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	readJSON(t, conn) // sub_ack

	time.Sleep(50 * time.Millisecond)
	sent := manager.Publisher().PublishProgress("req-1", "gate", "running", nil, "")
	assert.Equal(t, 1, sent)

	msg := readJSON(t, conn)
	assert.Equal(t, TypeProgress, msg["type"])
	assert.Equal(t, "gate", msg["stage"])
}

func TestManager_BacklogCatchUpOnSubscribe(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	// Publish before anyone subscribes; frames land in the backlog.
	manager.Publisher().PublishProgress("req-1", "gate", "done", nil, "")
	manager.Publisher().PublishProgress("req-1", "intent", "running", nil, "")

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})

	ack := readJSON(t, conn)
	require.Equal(t, TypeSubAck, ack["type"])

	first := readJSON(t, conn)
	second := readJSON(t, conn)
	assert.Equal(t, "gate", first["stage"])
	assert.Equal(t, "intent", second["stage"])
}

func TestManager_TerminalReplayAfterBacklogExpiry(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	resp := &models.SearchResponse{Meta: models.ResponseMeta{ResultCount: 4}}
	require.NoError(t, store.SetDone(context.Background(), "req-1", resp))

	// Nothing was backlogged; the subscriber still learns the outcome.
	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})

	ack := readJSON(t, conn)
	require.Equal(t, TypeSubAck, ack["type"])

	ready := readJSON(t, conn)
	assert.Equal(t, TypeReady, ready["type"])
	assert.Equal(t, "/api/v1/search/req-1/result", ready["resultUrl"])
	assert.Equal(t, float64(4), ready["resultCount"])
}

func TestManager_TerminalReplayForFailedJob(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")
	require.NoError(t, store.SetFailed(context.Background(), "req-1", "GOOGLE_TIMEOUT", "provider deadline exceeded"))

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})

	ack := readJSON(t, conn)
	require.Equal(t, TypeSubAck, ack["type"])

	errFrame := readJSON(t, conn)
	assert.Equal(t, TypeError, errFrame["type"])
	assert.Equal(t, "GOOGLE_TIMEOUT", errFrame["code"])
}

func TestManager_PendingSubscribePromotedOnJobCreation(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})

	parked := readJSON(t, conn)
	require.Equal(t, TypeSubAck, parked["type"])
	require.Equal(t, true, parked["pending"])

	// Job appears; the parked subscription activates.
	job := initJob(t, store, "req-1", "s1")
	manager.OnJobCreated(job)

	active := readJSON(t, conn)
	assert.Equal(t, TypeSubAck, active["type"])
	assert.Equal(t, false, active["pending"])

	manager.Publisher().PublishProgress("req-1", "gate", "running", nil, "")
	msg := readJSON(t, conn)
	assert.Equal(t, TypeProgress, msg["type"])
}

func TestManager_PendingPromotionRejectsForeignSession(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)

	conn := connectWS(t, server, "intruder")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	readJSON(t, conn) // pending ack

	job := initJob(t, store, "req-1", "owner")
	manager.OnJobCreated(job)

	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubNack, msg["type"])
	assert.Equal(t, NackSessionMismatch, msg["reason"])
}

func TestManager_SubscribeRateLimited(t *testing.T) {
	cfg := testWSConfig()
	cfg.SubscribesPerMinute = 2

	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, cfg, store)
	initJob(t, store, "req-1", "s1")
	initJob(t, store, "req-2", "s1")

	conn := connectWS(t, server, "s1")

	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	require.Equal(t, TypeSubAck, readJSON(t, conn)["type"])

	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-2"})
	require.Equal(t, TypeSubAck, readJSON(t, conn)["type"])

	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelAssistant, RequestID: "req-1"})
	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubNack, msg["type"])
	assert.Equal(t, NackRateLimitExceeded, msg["reason"])
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	readJSON(t, conn) // sub_ack

	writeJSON(t, conn, ClientMessage{Type: TypeUnsubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	time.Sleep(100 * time.Millisecond)

	manager.Publisher().PublishProgress("req-1", "gate", "running", nil, "")
	assertNoFrame(t, conn)
}

func TestManager_ChannelIsolation(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	readJSON(t, conn) // sub_ack
	time.Sleep(50 * time.Millisecond)

	// Assistant traffic for the same request must not leak onto the search
	// subscription.
	manager.Publisher().PublishAssistantError("req-1", "LLM_TIMEOUT")
	assertNoFrame(t, conn)
}

func TestManager_FanOutToMultipleSubscribers(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	conn1 := connectWS(t, server, "s1")
	conn2 := connectWS(t, server, "s1")

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
		readJSON(t, conn) // sub_ack
	}
	time.Sleep(50 * time.Millisecond)

	sent := manager.Publisher().PublishProgress("req-1", "gate", "running", nil, "")
	assert.Equal(t, 2, sent)

	assert.Equal(t, TypeProgress, readJSON(t, conn1)["type"])
	assert.Equal(t, TypeProgress, readJSON(t, conn2)["type"])
}

type recordingCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (r *recordingCanceller) Cancel(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, requestID)
	return true
}

func (r *recordingCanceller) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancelled...)
}

func TestManager_CancelEventFromOwner(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	canceller := &recordingCanceller{}
	manager.SetCanceller(canceller)
	initJob(t, store, "req-1", "s1")

	conn := connectWS(t, server, "s1")
	writeJSON(t, conn, map[string]any{
		"type":      TypeEvent,
		"channel":   ChannelSearch,
		"requestId": "req-1",
		"payload":   map[string]any{"action": "cancel"},
	})

	require.Eventually(t, func() bool {
		return len(canceller.calls()) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "req-1", canceller.calls()[0])
}

func TestManager_CancelEventFromForeignSessionIgnored(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	canceller := &recordingCanceller{}
	manager.SetCanceller(canceller)
	initJob(t, store, "req-1", "owner")

	conn := connectWS(t, server, "intruder")
	writeJSON(t, conn, map[string]any{
		"type":      TypeEvent,
		"channel":   ChannelSearch,
		"requestId": "req-1",
		"payload":   map[string]any{"action": "cancel"},
	})

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, canceller.calls())
	assertNoFrame(t, conn)
}

func TestManager_CleanupOnDisconnect(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	manager, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + server.URL[len("http"):] + "?session=s1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	readJSON(t, conn) // sub_ack

	require.Eventually(t, func() bool {
		return manager.ConnCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return manager.ConnCount() == 0
	}, 2*time.Second, 20*time.Millisecond)

	// Publishing after disconnect backlogs instead of panicking.
	sent := manager.Publisher().PublishProgress("req-1", "gate", "running", nil, "")
	assert.Equal(t, 0, sent)
}

func TestManager_MalformedMessageToleratedAndConnectionSurvives(t *testing.T) {
	store := jobs.NewMemoryStore(5 * time.Minute)
	_, server := setupTestManager(t, testWSConfig(), store)
	initJob(t, store, "req-1", "s1")

	conn := connectWS(t, server, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	// The connection stays usable.
	writeJSON(t, conn, ClientMessage{Type: TypeSubscribe, Channel: ChannelSearch, RequestID: "req-1"})
	msg := readJSON(t, conn)
	assert.Equal(t, TypeSubAck, msg["type"])
}
