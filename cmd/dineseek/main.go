// Dineseek search server: HTTP API, WebSocket result delivery and the
// staged restaurant search pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dineseek/dineseek/pkg/api"
	"github.com/dineseek/dineseek/pkg/assistant"
	"github.com/dineseek/dineseek/pkg/auth"
	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/jobs"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/pipeline"
	"github.com/dineseek/dineseek/pkg/places"
	"github.com/dineseek/dineseek/pkg/search"
	"github.com/dineseek/dineseek/pkg/version"
	"github.com/dineseek/dineseek/pkg/ws"
)

const shutdownTimeout = 15 * time.Second

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	// Parse command-line flags
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	// Load .env before anything reads the environment
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	// 1. Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	if err := config.NewValidator(cfg).ValidateAll(); err != nil {
		slog.Error("Configuration validation failed", "env", cfg.Env, "error", err)
		os.Exit(1)
	}

	slog.Info("Starting dineseek",
		"env", cfg.Env,
		"http_addr", cfg.HTTPAddr,
		"contracts_version", version.ContractsVersion)

	ctx := context.Background()

	// 2. Connect Redis (optional outside prod-like environments)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		cancel()
		slog.Info("Connected to Redis")
	} else {
		slog.Warn("REDIS_URL not set, using in-memory stores; jobs and tickets will not survive restarts")
	}

	// 3. Stores and auth
	var jobStore jobs.Store
	var tickets auth.TicketStore
	if rdb != nil {
		jobStore = jobs.NewRedisStore(rdb, cfg.Pipeline.JobTTL)
		tickets = auth.NewRedisTicketStore(rdb, cfg.WS.TicketTTL)
	} else {
		jobStore = jobs.NewMemoryStore(cfg.Pipeline.JobTTL)
		tickets = auth.NewMemoryTicketStore(cfg.WS.TicketTTL)
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL)

	// 4. WebSocket fan-out
	manager := ws.NewManager(cfg.WS, jobStore)

	// 5. Provider clients
	llmClient := llm.NewOpenAIClient(cfg.OpenAIKey, llm.WithBaseURL(cfg.OpenAIBaseURL))
	googleClient := places.NewGoogleClient(cfg.GoogleKey, places.WithBaseURL(cfg.GoogleBaseURL))
	placesClient := places.NewCachedClient(googleClient, rdb, cfg.Pipeline.GoogleTimeout,
		places.WithCacheTTL(cfg.Pipeline.CacheTTL))

	// 6. Pipeline, narrator and runner
	narrator := assistant.NewService(llmClient, manager.Publisher(), cfg)
	orchestrator := pipeline.NewRoute2Orchestrator(llmClient, placesClient, narrator, manager.Publisher(), cfg)
	runner := search.NewRunner(orchestrator, jobStore, manager, manager.Publisher(), narrator, cfg)
	manager.SetCanceller(runner)

	// 7. HTTP server
	var photos api.PhotoFetcher
	if cfg.GoogleKey != "" {
		photos = googleClient
	}
	server := api.NewServer(cfg, verifier, tickets, runner, manager, photos)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	serveFailed := false
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		serveFailed = true
	}

	// 10. Graceful shutdown: stop intake, drain detached runs, close sockets,
	// then Redis.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := runner.Close(shutdownCtx); err != nil {
		slog.Warn("Search runner drain incomplete", "error", err)
	}

	manager.Close()

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	if serveFailed {
		os.Exit(1)
	}
}
