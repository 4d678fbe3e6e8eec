package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/models"
)

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func TestResolveSharedFilters_RegionPriority(t *testing.T) {
	tuning := defaultTuning(t)

	tests := []struct {
		name       string
		userRegion string
		candidate  string
		want       string
	}{
		{name: "user location wins", userRegion: "US", candidate: "fr", want: "us"},
		{name: "intent candidate next", userRegion: "", candidate: "FR", want: "fr"},
		{name: "fallback last", userRegion: "", candidate: "", want: "il"},
		{name: "invalid candidate skipped", userRegion: "", candidate: "ISR", want: "il"},
		{name: "numeric candidate skipped", userRegion: "1l", candidate: "", want: "il"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters := resolveSharedFilters(baseFiltersDoc{}, models.Intent{RegionCandidate: tt.candidate}, tt.userRegion, models.SearchRequest{}, tuning)
			assert.Equal(t, tt.want, filters.RegionCode)
		})
	}
}

func TestResolveSharedFilters_LanguagePriority(t *testing.T) {
	tuning := defaultTuning(t)

	tests := []struct {
		name     string
		base     string
		intent   string
		locale   string
		wantUI   string
		wantProv string
	}{
		{name: "base wins", base: "he", intent: "en", locale: "en-US", wantUI: "he", wantProv: "he"},
		{name: "intent next", base: "", intent: "en", locale: "he-IL", wantUI: "en", wantProv: "en"},
		{name: "locale next", base: "", intent: "", locale: "he-IL", wantUI: "he", wantProv: "he"},
		{name: "other when nothing resolves", base: "", intent: "", locale: "", wantUI: "other", wantProv: "en"},
		{name: "unknown locale maps to other", base: "", intent: "", locale: "fr-FR", wantUI: "other", wantProv: "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters := resolveSharedFilters(
				baseFiltersDoc{UILanguage: tt.base},
				models.Intent{Language: tt.intent},
				"",
				models.SearchRequest{Locale: tt.locale},
				tuning,
			)
			assert.Equal(t, tt.wantUI, filters.UILanguage)
			assert.Equal(t, tt.wantProv, filters.ProviderLanguage)
		})
	}
}

func TestResolveSharedFilters_OpenState(t *testing.T) {
	tuning := defaultTuning(t)

	filters := resolveSharedFilters(baseFiltersDoc{OpenNow: boolPtr(true)}, models.Intent{}, "", models.SearchRequest{}, tuning)
	require.NotNil(t, filters.OpenState)
	assert.Equal(t, models.OpenNow, *filters.OpenState)

	filters = resolveSharedFilters(baseFiltersDoc{}, models.Intent{}, "", models.SearchRequest{}, tuning)
	assert.Nil(t, filters.OpenState)
}

func TestResolveSharedFilters_ClientOverrides(t *testing.T) {
	tuning := defaultTuning(t)

	req := models.SearchRequest{
		Filters: &models.RequestFilters{
			OpenNow:    boolPtr(true),
			PriceLevel: intPtr(2),
			Dietary:    []string{"Kosher", "gluten-free"},
			MustHave:   []string{" outdoor seating ", ""},
		},
	}

	filters := resolveSharedFilters(baseFiltersDoc{PriceLevel: intPtr(4)}, models.Intent{}, "", req, tuning)

	require.NotNil(t, filters.OpenState)
	assert.Equal(t, models.OpenNow, *filters.OpenState)
	require.NotNil(t, filters.PriceLevel)
	assert.Equal(t, 2, *filters.PriceLevel, "client price overrides the extracted one")
	require.NotNil(t, filters.IsKosher)
	assert.True(t, *filters.IsKosher)
	require.NotNil(t, filters.IsGlutenFree)
	assert.True(t, *filters.IsGlutenFree)
	assert.Contains(t, filters.Requirements, "outdoor seating")
	assert.NotContains(t, filters.Requirements, "")
}

func TestResolveSharedFilters_OutOfRangeClientPriceDropped(t *testing.T) {
	tuning := defaultTuning(t)

	req := models.SearchRequest{Filters: &models.RequestFilters{PriceLevel: intPtr(9)}}
	filters := resolveSharedFilters(baseFiltersDoc{}, models.Intent{}, "", req, tuning)

	assert.Nil(t, filters.PriceLevel)
}

func TestDropFalse(t *testing.T) {
	assert.Nil(t, dropFalse(boolPtr(false)), "false collapses to absent")
	require.NotNil(t, dropFalse(boolPtr(true)))
	assert.Nil(t, dropFalse(nil))
}

func TestClampPriceLevel(t *testing.T) {
	tests := []struct {
		name string
		in   *int
		want *int
	}{
		{name: "nil", in: nil, want: nil},
		{name: "below range", in: intPtr(0), want: nil},
		{name: "above range", in: intPtr(5), want: nil},
		{name: "in range", in: intPtr(3), want: intPtr(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampPriceLevel(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestLocaleLanguage(t *testing.T) {
	assert.Equal(t, "he", localeLanguage("he-IL"))
	assert.Equal(t, "en", localeLanguage("en_US"))
	assert.Equal(t, "en", localeLanguage("EN"))
	assert.Equal(t, "", localeLanguage("fr-FR"))
	assert.Equal(t, "", localeLanguage(""))
}

func TestNormalizeRegion(t *testing.T) {
	assert.Equal(t, "il", normalizeRegion(" IL "))
	assert.Equal(t, "", normalizeRegion("ISR"))
	assert.Equal(t, "", normalizeRegion("i1"))
	assert.Equal(t, "", normalizeRegion(""))
}
