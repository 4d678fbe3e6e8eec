// Package config loads and validates the process configuration from the
// environment. Security-sensitive settings fail closed in production and
// staging: a missing or weak value stops the process at startup rather than
// degrading at request time.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// IsValid reports whether the environment is one of the known values.
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTest, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// devJWTSecret is the well-known development fallback. The validator rejects
// it in production and staging.
const devJWTSecret = "dev-secret-do-not-use-in-production!!"

// Config is the complete process configuration.
type Config struct {
	Env      Environment
	HTTPAddr string
	LogLevel string

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Redis
	RedisURL string

	// WebSocket
	WSRequireAuth   bool
	FrontendOrigins []string
	WS              WSConfig

	// Feature flags and provider keys. Empty base URLs mean the real
	// provider hosts; tests point them at local servers.
	EnableAI           bool
	EnableGoogleSearch bool
	OpenAIKey          string
	OpenAIBaseURL      string
	OpenAIModelDefault string
	GoogleKey          string
	GoogleBaseURL      string

	LLM      LLMConfig
	Limits   LimitsConfig
	Pipeline PipelineConfig
	Tuning   *Tuning
}

// WSConfig bounds the WebSocket transport and the fan-out stores.
type WSConfig struct {
	// MaxFrameBytes is the read limit applied to every socket.
	MaxFrameBytes int64
	// PingInterval is the server heartbeat period.
	PingInterval time.Duration
	// IdleTimeout closes sockets with no inbound traffic.
	IdleTimeout time.Duration
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
	// TicketTTL is the lifetime of a one-time handshake ticket.
	TicketTTL time.Duration
	// BacklogTTL is how long undelivered messages wait for a subscriber.
	BacklogTTL time.Duration
	// BacklogPerKeyCap is the FIFO depth per subscription key.
	BacklogPerKeyCap int
	// BacklogGlobalCap is the total backlog depth across all keys.
	BacklogGlobalCap int
	// PendingTTL is how long a subscribe may wait for its job to appear.
	PendingTTL time.Duration
	// SubscribesPerMinute is the per-socket subscribe rate limit.
	SubscribesPerMinute int
}

// LimitsConfig holds the per-IP HTTP rate limits.
type LimitsConfig struct {
	SearchPerMinute int
	PhotosPerMinute int
	// MaxBodyBytes bounds request bodies on JSON endpoints.
	MaxBodyBytes int64
}

// PipelineConfig bounds the search pipeline.
type PipelineConfig struct {
	// Deadline is the global budget for one search, accept to terminal.
	Deadline time.Duration
	// GoogleTimeout bounds a single provider call.
	GoogleTimeout time.Duration
	// GeocodeTimeout bounds reverse-geocode and landmark geocode calls.
	GeocodeTimeout time.Duration
	// JobTTL is the retention of job records after creation.
	JobTTL time.Duration
	// CacheTTL is the provider cache retention.
	CacheTTL time.Duration
}

// defaults returns the built-in configuration before env overrides.
func defaults() *Config {
	return &Config{
		Env:      EnvDevelopment,
		HTTPAddr: ":8080",
		LogLevel: "info",

		JWTSecret: devJWTSecret,
		JWTTTL:    30 * 24 * time.Hour,

		WSRequireAuth: true,
		WS: WSConfig{
			MaxFrameBytes:       64 * 1024,
			PingInterval:        30 * time.Second,
			IdleTimeout:         15 * time.Minute,
			WriteTimeout:        5 * time.Second,
			TicketTTL:           30 * time.Second,
			BacklogTTL:          120 * time.Second,
			BacklogPerKeyCap:    50,
			BacklogGlobalCap:    10000,
			PendingTTL:          120 * time.Second,
			SubscribesPerMinute: 10,
		},

		OpenAIBaseURL:      "",
		OpenAIModelDefault: "gpt-4o-mini",
		GoogleBaseURL:      "",

		LLM: DefaultLLMConfig(),
		Limits: LimitsConfig{
			SearchPerMinute: 100,
			PhotosPerMinute: 30,
			MaxBodyBytes:    16 * 1024,
		},
		Pipeline: PipelineConfig{
			Deadline:       45 * time.Second,
			GoogleTimeout:  8 * time.Second,
			GeocodeTimeout: 4 * time.Second,
			JobTTL:         5 * time.Minute,
			CacheTTL:       10 * time.Minute,
		},
	}
}

// Load builds the configuration from the environment on top of defaults,
// then loads the search tuning file (embedded default unless
// SEARCH_TUNING_PATH is set). It does not validate; call ValidateAll next.
func Load() (*Config, error) {
	cfg := defaults()

	cfg.Env = Environment(getEnv("APP_ENV", string(cfg.Env)))
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTL = getDuration("JWT_TTL_HOURS", time.Hour, cfg.JWTTTL)

	cfg.RedisURL = getEnv("REDIS_URL", "")

	cfg.WSRequireAuth = getBool("WS_REQUIRE_AUTH", cfg.WSRequireAuth)
	cfg.FrontendOrigins = splitList(getEnv("FRONTEND_ORIGINS", ""))

	cfg.EnableAI = getBool("ENABLE_AI_FEATURES", false)
	cfg.EnableGoogleSearch = getBool("ENABLE_GOOGLE_SEARCH", false)
	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.GoogleKey = getEnv("GOOGLE_MAPS_API_KEY", "")
	cfg.GoogleBaseURL = getEnv("GOOGLE_MAPS_BASE_URL", cfg.GoogleBaseURL)

	cfg.LLM.loadEnv()

	cfg.Limits.SearchPerMinute = getInt("SEARCH_RATE_PER_MINUTE", cfg.Limits.SearchPerMinute)
	cfg.Limits.PhotosPerMinute = getInt("PHOTOS_RATE_PER_MINUTE", cfg.Limits.PhotosPerMinute)

	cfg.Pipeline.Deadline = getDuration("PIPELINE_DEADLINE_MS", time.Millisecond, cfg.Pipeline.Deadline)
	cfg.Pipeline.GoogleTimeout = getDuration("GOOGLE_TIMEOUT_MS", time.Millisecond, cfg.Pipeline.GoogleTimeout)
	cfg.Pipeline.JobTTL = getDuration("JOB_TTL_MS", time.Millisecond, cfg.Pipeline.JobTTL)

	tuning, err := LoadTuning(getEnv("SEARCH_TUNING_PATH", ""))
	if err != nil {
		return nil, err
	}
	cfg.Tuning = tuning

	return cfg, nil
}

// IsProdLike reports whether production security gates apply. Staging is
// treated as production.
func (c *Config) IsProdLike() bool {
	return c.Env == EnvProduction || c.Env == EnvStaging
}

// getEnv returns the environment value or a default when unset/empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBool parses common boolean spellings; unset or unparsable returns the default.
func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getInt parses an integer; unset or unparsable returns the default.
func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getDuration parses an integer count of the given unit; unset or
// unparsable returns the default.
func getDuration(key string, unit time.Duration, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return time.Duration(parsed) * unit
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
