package config

import (
	"fmt"
	"time"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first
// error). Security gates run first so a misconfigured production process
// never reaches the serving code.
func (v *Validator) ValidateAll() error {
	if err := v.validateEnvironment(); err != nil {
		return fmt.Errorf("environment validation failed: %w", err)
	}

	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := v.validateOrigins(); err != nil {
		return fmt.Errorf("origin validation failed: %w", err)
	}

	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	if err := v.validateBudgets(); err != nil {
		return fmt.Errorf("budget validation failed: %w", err)
	}

	if err := v.validateTuning(); err != nil {
		return fmt.Errorf("tuning validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateEnvironment() error {
	if !v.cfg.Env.IsValid() {
		return NewValidationError("environment", "APP_ENV", fmt.Errorf("%w: %q", ErrInvalidValue, v.cfg.Env))
	}
	return nil
}

func (v *Validator) validateAuth() error {
	if !v.cfg.IsProdLike() {
		return nil
	}

	if v.cfg.JWTSecret == "" {
		return NewValidationError("auth", "JWT_SECRET", ErrMissingRequiredField)
	}
	if v.cfg.JWTSecret == devJWTSecret {
		return NewValidationError("auth", "JWT_SECRET", fmt.Errorf("%w: development default is not allowed", ErrWeakSecret))
	}
	if len(v.cfg.JWTSecret) < 32 {
		return NewValidationError("auth", "JWT_SECRET", fmt.Errorf("%w: need at least 32 characters, got %d", ErrWeakSecret, len(v.cfg.JWTSecret)))
	}

	if v.cfg.WSRequireAuth && v.cfg.RedisURL == "" {
		return NewValidationError("redis", "REDIS_URL", fmt.Errorf("%w: required when WS_REQUIRE_AUTH is enabled", ErrMissingRequiredField))
	}

	return nil
}

func (v *Validator) validateOrigins() error {
	if !v.cfg.IsProdLike() {
		return nil
	}

	if len(v.cfg.FrontendOrigins) == 0 {
		return NewValidationError("origins", "FRONTEND_ORIGINS", ErrMissingRequiredField)
	}
	for _, origin := range v.cfg.FrontendOrigins {
		if origin == "*" {
			return NewValidationError("origins", "FRONTEND_ORIGINS", fmt.Errorf("%w: wildcard origin", ErrInsecureOrigin))
		}
	}

	return nil
}

func (v *Validator) validateProviders() error {
	if !v.cfg.IsProdLike() {
		return nil
	}

	if v.cfg.EnableAI && v.cfg.OpenAIKey == "" {
		return NewValidationError("llm", "OPENAI_API_KEY", fmt.Errorf("%w: ENABLE_AI_FEATURES is on", ErrMissingRequiredField))
	}
	if v.cfg.EnableGoogleSearch && v.cfg.GoogleKey == "" {
		return NewValidationError("google", "GOOGLE_MAPS_API_KEY", fmt.Errorf("%w: ENABLE_GOOGLE_SEARCH is on", ErrMissingRequiredField))
	}

	return nil
}

func (v *Validator) validateBudgets() error {
	p := v.cfg.Pipeline
	if p.Deadline <= 0 || p.Deadline > 120*time.Second {
		return NewValidationError("pipeline", "PIPELINE_DEADLINE_MS", fmt.Errorf("%w: must be in (0s, 120s], got %s", ErrInvalidValue, p.Deadline))
	}
	if p.GoogleTimeout <= 0 || p.GoogleTimeout >= p.Deadline {
		return NewValidationError("pipeline", "GOOGLE_TIMEOUT_MS", fmt.Errorf("%w: must be positive and below the pipeline deadline", ErrInvalidValue))
	}
	if p.JobTTL < 5*time.Minute {
		return NewValidationError("pipeline", "JOB_TTL_MS", fmt.Errorf("%w: jobs must outlive polling clients (>= 5m), got %s", ErrInvalidValue, p.JobTTL))
	}

	ws := v.cfg.WS
	if ws.MaxFrameBytes <= 0 || ws.BacklogPerKeyCap <= 0 || ws.BacklogGlobalCap < ws.BacklogPerKeyCap {
		return NewValidationError("websocket", "", fmt.Errorf("%w: frame and backlog caps must be positive and global >= per-key", ErrInvalidValue))
	}
	if ws.TicketTTL <= 0 || ws.BacklogTTL <= 0 || ws.PendingTTL <= 0 {
		return NewValidationError("websocket", "", fmt.Errorf("%w: TTLs must be positive", ErrInvalidValue))
	}
	if ws.SubscribesPerMinute <= 0 {
		return NewValidationError("websocket", "", fmt.Errorf("%w: subscribe rate must be positive", ErrInvalidValue))
	}

	for _, purpose := range Purposes {
		if v.cfg.LLM.Timeout(purpose) <= 0 {
			return NewValidationError("llm", string(purpose)+"_TIMEOUT_MS", fmt.Errorf("%w: timeout must be positive", ErrInvalidValue))
		}
	}

	return nil
}

func (v *Validator) validateTuning() error {
	t := v.cfg.Tuning
	if t == nil {
		return NewValidationError("tuning", "", ErrMissingRequiredField)
	}
	if len(t.RegionFallback) != 2 {
		return NewValidationError("tuning", "region_fallback", fmt.Errorf("%w: want ISO alpha-2, got %q", ErrInvalidValue, t.RegionFallback))
	}
	if len(t.NearMe.Phrases) == 0 {
		return NewValidationError("tuning", "near_me.phrases", ErrMissingRequiredField)
	}
	if t.Nearby.DefaultRadiusMeters <= 0 || t.Nearby.MaxRadiusMeters < t.Nearby.DefaultRadiusMeters {
		return NewValidationError("tuning", "nearby", fmt.Errorf("%w: radii must be positive and max >= default", ErrInvalidValue))
	}
	return nil
}
