package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Purpose identifies which pipeline stage an LLM call serves. Model and
// timeout are resolved per purpose.
type Purpose string

const (
	PurposeGate            Purpose = "gate"
	PurposeIntent          Purpose = "intent"
	PurposeBaseFilters     Purpose = "base_filters"
	PurposePostConstraints Purpose = "post_constraints"
	PurposeRouteMapper     Purpose = "route_mapper"
	PurposeAssistant       Purpose = "assistant"
)

// Purposes lists every purpose with its own resolution slot.
// post_constraints shares the base_filters override slot: the two calls are
// fired together and tuned together.
var Purposes = []Purpose{
	PurposeGate, PurposeIntent, PurposeBaseFilters, PurposeRouteMapper, PurposeAssistant,
}

// purposeSetting is one purpose's resolved overrides. Zero values mean
// "fall through to the global default".
type purposeSetting struct {
	Model   string
	Timeout time.Duration
}

// LLMConfig resolves model and timeout per purpose:
// purpose override → global default → built-in default.
type LLMConfig struct {
	DefaultModel   string
	DefaultTimeout time.Duration

	overrides map[Purpose]purposeSetting
	builtins  map[Purpose]time.Duration
}

// DefaultLLMConfig returns the built-in per-purpose budgets.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		overrides: make(map[Purpose]purposeSetting),
		builtins: map[Purpose]time.Duration{
			PurposeGate:            2500 * time.Millisecond,
			PurposeIntent:          3 * time.Second,
			PurposeBaseFilters:     3 * time.Second,
			PurposePostConstraints: 3 * time.Second,
			PurposeRouteMapper:     4 * time.Second,
			PurposeAssistant:       5 * time.Second,
		},
	}
}

// loadEnv reads LLM_DEFAULT_MODEL / LLM_DEFAULT_TIMEOUT_MS and the
// per-purpose {PURPOSE}_MODEL / {PURPOSE}_TIMEOUT_MS overrides.
func (l *LLMConfig) loadEnv() {
	l.DefaultModel = os.Getenv("LLM_DEFAULT_MODEL")
	if value := os.Getenv("LLM_DEFAULT_TIMEOUT_MS"); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			l.DefaultTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	for _, p := range Purposes {
		prefix := strings.ToUpper(string(p))
		setting := l.overrides[p]
		if model := os.Getenv(prefix + "_MODEL"); model != "" {
			setting.Model = model
		}
		if value := os.Getenv(prefix + "_TIMEOUT_MS"); value != "" {
			if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
				setting.Timeout = time.Duration(ms) * time.Millisecond
			}
		}
		l.overrides[p] = setting
	}
}

// resolutionSlot maps post_constraints onto the base_filters override slot.
func resolutionSlot(p Purpose) Purpose {
	if p == PurposePostConstraints {
		return PurposeBaseFilters
	}
	return p
}

// Model resolves the model for a purpose: override → global → fallback.
func (l *LLMConfig) Model(p Purpose, fallback string) string {
	if s, ok := l.overrides[resolutionSlot(p)]; ok && s.Model != "" {
		return s.Model
	}
	if l.DefaultModel != "" {
		return l.DefaultModel
	}
	return fallback
}

// Timeout resolves the call budget for a purpose: override → global →
// built-in per-purpose default.
func (l *LLMConfig) Timeout(p Purpose) time.Duration {
	if s, ok := l.overrides[resolutionSlot(p)]; ok && s.Timeout > 0 {
		return s.Timeout
	}
	if l.DefaultTimeout > 0 {
		return l.DefaultTimeout
	}
	if d, ok := l.builtins[p]; ok {
		return d
	}
	return 3 * time.Second
}

// setOverride is a test hook for injecting purpose overrides directly.
func (l *LLMConfig) setOverride(p Purpose, model string, timeout time.Duration) {
	l.overrides[p] = purposeSetting{Model: model, Timeout: timeout}
}
