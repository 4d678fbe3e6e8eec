package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMConfig_BuiltinTimeouts(t *testing.T) {
	llm := DefaultLLMConfig()

	assert.Equal(t, 2500*time.Millisecond, llm.Timeout(PurposeGate))
	assert.Equal(t, 3*time.Second, llm.Timeout(PurposeIntent))
	assert.Equal(t, 4*time.Second, llm.Timeout(PurposeRouteMapper))
	assert.Equal(t, 5*time.Second, llm.Timeout(PurposeAssistant))
}

func TestLLMConfig_ResolutionOrder(t *testing.T) {
	llm := DefaultLLMConfig()

	// Built-in fallback when nothing is configured.
	assert.Equal(t, "gpt-4o-mini", llm.Model(PurposeGate, "gpt-4o-mini"))

	// Global default beats the fallback.
	llm.DefaultModel = "global-model"
	llm.DefaultTimeout = 9 * time.Second
	assert.Equal(t, "global-model", llm.Model(PurposeGate, "gpt-4o-mini"))
	assert.Equal(t, 9*time.Second, llm.Timeout(PurposeGate))

	// Purpose override beats the global default.
	llm.setOverride(PurposeGate, "gate-model", 1200*time.Millisecond)
	assert.Equal(t, "gate-model", llm.Model(PurposeGate, "gpt-4o-mini"))
	assert.Equal(t, 1200*time.Millisecond, llm.Timeout(PurposeGate))

	// Other purposes keep the global default.
	assert.Equal(t, "global-model", llm.Model(PurposeIntent, "gpt-4o-mini"))
}

func TestLLMConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LLM_DEFAULT_MODEL", "env-default")
	t.Setenv("LLM_DEFAULT_TIMEOUT_MS", "7000")
	t.Setenv("GATE_MODEL", "env-gate")
	t.Setenv("GATE_TIMEOUT_MS", "1500")
	t.Setenv("ROUTE_MAPPER_TIMEOUT_MS", "6000")

	llm := DefaultLLMConfig()
	llm.loadEnv()

	assert.Equal(t, "env-gate", llm.Model(PurposeGate, "x"))
	assert.Equal(t, 1500*time.Millisecond, llm.Timeout(PurposeGate))
	assert.Equal(t, "env-default", llm.Model(PurposeIntent, "x"))
	assert.Equal(t, 7*time.Second, llm.Timeout(PurposeIntent))
	assert.Equal(t, 6*time.Second, llm.Timeout(PurposeRouteMapper))
}

func TestLLMConfig_PostConstraintsSharesBaseFiltersSlot(t *testing.T) {
	t.Setenv("BASE_FILTERS_MODEL", "filters-model")
	t.Setenv("BASE_FILTERS_TIMEOUT_MS", "2000")

	llm := DefaultLLMConfig()
	llm.loadEnv()

	assert.Equal(t, "filters-model", llm.Model(PurposePostConstraints, "x"))
	assert.Equal(t, 2*time.Second, llm.Timeout(PurposePostConstraints))
}

func TestLoadTuning_Builtin(t *testing.T) {
	tuning, err := LoadTuning("")
	require.NoError(t, err)

	assert.Equal(t, "IL", tuning.RegionFallback)
	assert.NotEmpty(t, tuning.NearMe.Phrases["he"])
	assert.NotEmpty(t, tuning.NearMe.Phrases["en"])
	assert.Greater(t, tuning.Ranking.RatingWeight, 0.0)
	assert.Greater(t, tuning.Nearby.MaxRadiusMeters, tuning.Nearby.DefaultRadiusMeters)
	assert.NotEmpty(t, tuning.Chips)
}

func TestLoadTuning_FileOverride(t *testing.T) {
	path := t.TempDir() + "/tuning.yaml"
	override := []byte("region_fallback: US\nranking:\n  rating_weight: 3.5\n")
	require.NoError(t, os.WriteFile(path, override, 0o600))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)

	assert.Equal(t, "US", tuning.RegionFallback)
	assert.Equal(t, 3.5, tuning.Ranking.RatingWeight)
	// Untouched sections keep built-in values.
	assert.NotEmpty(t, tuning.NearMe.Phrases["en"])
}

func TestLoadTuning_BadFile(t *testing.T) {
	path := t.TempDir() + "/broken.yaml"
	require.NoError(t, os.WriteFile(path, []byte("near_me: [not: a: map"), 0o600))

	_, err := LoadTuning(path)
	require.Error(t, err)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadTuning_UnknownKeyRejected(t *testing.T) {
	path := t.TempDir() + "/typo.yaml"
	require.NoError(t, os.WriteFile(path, []byte("region_fallbck: US\n"), 0o600))

	_, err := LoadTuning(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadTuning_MissingFile(t *testing.T) {
	_, err := LoadTuning("/nonexistent/tuning.yaml")
	require.Error(t, err)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestChipDef_ChipLabel(t *testing.T) {
	chip := ChipDef{Labels: map[string]string{"en": "Open now", "he": "פתוח עכשיו"}}

	assert.Equal(t, "פתוח עכשיו", chip.ChipLabel("he"))
	assert.Equal(t, "Open now", chip.ChipLabel("en"))
	assert.Equal(t, "Open now", chip.ChipLabel("fr"))
}
