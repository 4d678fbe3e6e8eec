// Package e2e boots a complete dineseek instance against scripted LLM and
// Google providers and exercises it over real HTTP requests and real
// WebSocket connections. Redis is backed by miniredis; everything else is
// the production wiring.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/api"
	"github.com/dineseek/dineseek/pkg/assistant"
	"github.com/dineseek/dineseek/pkg/auth"
	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/jobs"
	"github.com/dineseek/dineseek/pkg/pipeline"
	"github.com/dineseek/dineseek/pkg/places"
	"github.com/dineseek/dineseek/pkg/search"
	"github.com/dineseek/dineseek/pkg/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestApp boots a complete dineseek instance for e2e testing.
type TestApp struct {
	Config *config.Config

	// Scripted providers
	LLM    *ScriptedLLMClient
	Google *GooglePlacesServer

	// Real infrastructure
	Redis   *miniredis.Miniredis
	Jobs    jobs.Store
	Manager *ws.Manager
	Runner  *search.Runner

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t    *testing.T
	http *http.Client
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	llm    *ScriptedLLMClient
	google *GooglePlacesServer
	mutate func(*config.Config)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithLLMClient sets a pre-scripted LLM client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llm = client }
}

// WithGoogleServer sets a pre-configured scripted provider server.
func WithGoogleServer(srv *GooglePlacesServer) TestAppOption {
	return func(c *testAppConfig) { c.google = srv }
}

// WithConfig mutates the default test config before wiring.
func WithConfig(mutate func(*config.Config)) TestAppOption {
	return func(c *testAppConfig) { c.mutate = mutate }
}

// NewTestApp creates and starts a full dineseek test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.llm == nil {
		tc.llm = NewScriptedLLMClient()
	}
	if tc.google == nil {
		tc.google = NewGooglePlacesServer(t)
	}

	// 1. Redis backed by miniredis.
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// 2. Config with test budgets, pointed at the scripted provider.
	cfg := defaultTestConfig(t, tc.google.URL())
	if tc.mutate != nil {
		tc.mutate(cfg)
	}

	// 3. Stores and auth.
	jobStore := jobs.NewRedisStore(rdb, cfg.Pipeline.JobTTL)
	tickets := auth.NewRedisTicketStore(rdb, cfg.WS.TicketTTL)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL)

	// 4. Fan-out, pipeline and runner, wired exactly like the binary. The
	// scripted LLM replaces the OpenAI adapter; the Google adapter is real
	// and talks to the scripted server.
	manager := ws.NewManager(cfg.WS, jobStore)
	googleClient := places.NewGoogleClient(cfg.GoogleKey, places.WithBaseURL(cfg.GoogleBaseURL))
	placesClient := places.NewCachedClient(googleClient, rdb, cfg.Pipeline.GoogleTimeout,
		places.WithCacheTTL(cfg.Pipeline.CacheTTL))
	narrator := assistant.NewService(tc.llm, manager.Publisher(), cfg)
	orchestrator := pipeline.NewRoute2Orchestrator(tc.llm, placesClient, narrator, manager.Publisher(), cfg)
	runner := search.NewRunner(orchestrator, jobStore, manager, manager.Publisher(), narrator, cfg)
	manager.SetCanceller(runner)

	// 5. HTTP server on a random port.
	server := api.NewServer(cfg, verifier, tickets, runner, manager, googleClient)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	httpServer := &http.Server{Handler: server.Router()}
	go func() { _ = httpServer.Serve(ln) }()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:  cfg,
		LLM:     tc.llm,
		Google:  tc.google,
		Redis:   mr,
		Jobs:    jobStore,
		Manager: manager,
		Runner:  runner,
		BaseURL: "http://" + addr,
		WSURL:   "ws://" + addr + "/ws",
		t:       t,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	// Register cleanup in reverse-creation order. miniredis shuts itself
	// down via RunT.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = runner.Close(shutdownCtx)
		manager.Close()
		_ = rdb.Close()
	})

	return app
}

// defaultTestConfig mirrors the binary's defaults with budgets tightened
// for tests and the provider base URL pointed at the scripted server.
func defaultTestConfig(t *testing.T, googleURL string) *config.Config {
	t.Helper()

	tuning, err := config.LoadTuning("")
	require.NoError(t, err)

	return &config.Config{
		Env:       config.EnvTest,
		HTTPAddr:  "127.0.0.1:0",
		LogLevel:  "error",
		JWTSecret: "e2e-test-secret",
		JWTTTL:    time.Hour,

		WSRequireAuth: true,
		WS: config.WSConfig{
			MaxFrameBytes:       64 * 1024,
			PingInterval:        30 * time.Second,
			IdleTimeout:         time.Minute,
			WriteTimeout:        2 * time.Second,
			TicketTTL:           30 * time.Second,
			BacklogTTL:          120 * time.Second,
			BacklogPerKeyCap:    50,
			BacklogGlobalCap:    1000,
			PendingTTL:          10 * time.Second,
			SubscribesPerMinute: 100,
		},

		EnableAI:           true,
		EnableGoogleSearch: true,
		OpenAIKey:          "test-openai-key",
		OpenAIModelDefault: "gpt-4o-mini",
		GoogleKey:          "test-google-key",
		GoogleBaseURL:      googleURL,

		LLM: config.DefaultLLMConfig(),
		Limits: config.LimitsConfig{
			SearchPerMinute: 1000,
			PhotosPerMinute: 1000,
			MaxBodyBytes:    16 * 1024,
		},
		Pipeline: config.PipelineConfig{
			Deadline:       10 * time.Second,
			GoogleTimeout:  2 * time.Second,
			GeocodeTimeout: 2 * time.Second,
			JobTTL:         5 * time.Minute,
			CacheTTL:       time.Minute,
		},
		Tuning: tuning,
	}
}

// MintSession creates a fresh anonymous session over HTTP and returns its
// bearer token and session id.
func (a *TestApp) MintSession() (token, sessionID string) {
	a.t.Helper()

	status, body := a.doJSON(http.MethodPost, "/api/v1/auth/token", "", nil)
	require.Equal(a.t, http.StatusOK, status, "minting a session token failed: %v", body)

	token, _ = body["token"].(string)
	sessionID, _ = body["sessionId"].(string)
	require.NotEmpty(a.t, token)
	require.NotEmpty(a.t, sessionID)
	return token, sessionID
}

// MintTicket exchanges the bearer token for a one-time WebSocket ticket.
func (a *TestApp) MintTicket(token string) string {
	a.t.Helper()

	status, body := a.doJSON(http.MethodPost, "/api/v1/ws-ticket", token, nil)
	require.Equal(a.t, http.StatusOK, status, "minting a ws ticket failed: %v", body)

	ticket, _ := body["ticket"].(string)
	require.NotEmpty(a.t, ticket)
	return ticket
}

// Accepted is the decoded 202 envelope of an async search.
type Accepted struct {
	RequestID        string `json:"requestId"`
	ResultURL        string `json:"resultUrl"`
	ContractsVersion string `json:"contractsVersion"`
}

// StartSearch POSTs an async search and returns its accept envelope.
func (a *TestApp) StartSearch(token string, body map[string]any) Accepted {
	a.t.Helper()

	status, decoded := a.doJSON(http.MethodPost, "/api/v1/search?mode=async", token, body)
	require.Equal(a.t, http.StatusAccepted, status, "async accept failed: %v", decoded)

	var acc Accepted
	acc.RequestID, _ = decoded["requestId"].(string)
	acc.ResultURL, _ = decoded["resultUrl"].(string)
	acc.ContractsVersion, _ = decoded["contractsVersion"].(string)
	require.NotEmpty(a.t, acc.RequestID)
	return acc
}

// SearchSync POSTs a blocking search and returns status plus decoded body.
func (a *TestApp) SearchSync(token string, body map[string]any) (int, map[string]any) {
	a.t.Helper()
	return a.doJSON(http.MethodPost, "/api/v1/search", token, body)
}

// GetResult polls the job result endpoint once.
func (a *TestApp) GetResult(token, requestID string) (int, map[string]any) {
	a.t.Helper()
	return a.doJSON(http.MethodGet, "/api/v1/search/"+requestID+"/result", token, nil)
}

// WaitForResultStatus polls the result endpoint until it answers with the
// wanted HTTP status, failing the test after timeout.
func (a *TestApp) WaitForResultStatus(token, requestID string, want int, timeout time.Duration) map[string]any {
	a.t.Helper()

	deadline := time.Now().Add(timeout)
	var (
		status int
		body   map[string]any
	)
	for time.Now().Before(deadline) {
		status, body = a.GetResult(token, requestID)
		if status == want {
			return body
		}
		time.Sleep(wsPollInterval)
	}
	a.t.Fatalf("result for %s never reached status %d, last was %d: %v", requestID, want, status, body)
	return nil
}

// doJSON issues one HTTP request with an optional bearer token and JSON
// body, decoding the JSON response.
func (a *TestApp) doJSON(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.BaseURL+path, reader)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)

	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(a.t, json.Unmarshal(raw, &decoded), "non-JSON response %d from %s %s: %s", resp.StatusCode, method, path, raw)
	}
	return resp.StatusCode, decoded
}

// rawResult fetches the result endpoint and returns the raw body for
// leak-scanning assertions.
func (a *TestApp) rawResult(token, requestID string) (int, string) {
	a.t.Helper()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/search/%s/result", a.BaseURL, requestID), nil)
	require.NoError(a.t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, string(raw)
}
