package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/places"
	"github.com/dineseek/dineseek/pkg/version"
)

func placeAt(id string, rating float64, count int, lat, lng float64) places.Place {
	return places.Place{
		ID:              id,
		Name:            id,
		Location:        models.LatLng{Lat: lat, Lng: lng},
		Rating:          &rating,
		UserRatingCount: &count,
	}
}

func TestBuildResponse_RanksByScore(t *testing.T) {
	fx := newFixture(t)

	in := responseInput{
		rctx:    testRequestContext(),
		filters: testFilters(),
		provider: providerResult{
			Places: []places.Place{
				samplePlace("low", "Meh Pizza", 3.1, 12),
				samplePlace("high", "Great Pizza", 4.8, 900),
				samplePlace("mid", "Fine Pizza", 4.1, 150),
			},
		},
	}

	resp := fx.orch.buildResponse(in)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "high", resp.Results[0].PlaceID)
	assert.Equal(t, "mid", resp.Results[1].PlaceID)
	assert.Equal(t, "low", resp.Results[2].PlaceID)
	assert.Equal(t, version.ContractsVersion, resp.Meta.ContractsVersion)
	assert.Equal(t, 3, resp.Meta.ResultCount)
	assert.Empty(t, resp.Meta.FailureReason)
	assert.Nil(t, resp.Groups, "ungrouped searches carry no group buckets")
}

func TestBuildResponse_DistanceLowersScore(t *testing.T) {
	fx := newFixture(t)

	anchor := &models.LatLng{Lat: 32.08, Lng: 34.78}
	in := responseInput{
		rctx:    testRequestContext(),
		filters: testFilters(),
		provider: providerResult{
			// Same rating and popularity; only distance differs.
			Places: []places.Place{
				placeAt("far", 4.5, 100, 32.08, 34.83),
				placeAt("close", 4.5, 100, 32.08, 34.781),
			},
			Anchor: anchor,
		},
	}

	resp := fx.orch.buildResponse(in)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "close", resp.Results[0].PlaceID)
	require.NotNil(t, resp.Results[0].DistanceMeters)
	require.NotNil(t, resp.Results[1].DistanceMeters)
	assert.Less(t, *resp.Results[0].DistanceMeters, *resp.Results[1].DistanceMeters)
}

func TestBuildResponse_GroupsAroundAnchor(t *testing.T) {
	fx := newFixture(t)

	anchor := &models.LatLng{Lat: 32.08, Lng: 34.78}
	in := responseInput{
		rctx:    testRequestContext(),
		filters: testFilters(),
		provider: providerResult{
			Places: []places.Place{
				placeAt("exact", 4.5, 100, 32.08, 34.78),
				placeAt("nearby", 4.5, 100, 32.09, 34.78),
			},
			Anchor:  anchor,
			Grouped: true,
		},
	}

	resp := fx.orch.buildResponse(in)

	require.NotNil(t, resp.Groups)
	require.Len(t, resp.Groups.Exact, 1)
	require.Len(t, resp.Groups.Nearby, 1)
	assert.Equal(t, "exact", resp.Groups.Exact[0].PlaceID)
	assert.Equal(t, models.GroupExact, resp.Groups.Exact[0].GroupKind)
	assert.Equal(t, "nearby", resp.Groups.Nearby[0].PlaceID)
	assert.Equal(t, models.GroupNearby, resp.Groups.Nearby[0].GroupKind)
}

func TestBuildResponse_EmptyIsNoResults(t *testing.T) {
	fx := newFixture(t)

	in := responseInput{
		rctx:     testRequestContext(),
		filters:  testFilters(),
		provider: providerResult{},
	}

	resp := fx.orch.buildResponse(in)

	assert.NotNil(t, resp.Results, "results serialize as an empty array, never null")
	assert.Empty(t, resp.Results)
	assert.Equal(t, models.FailureNoResults, resp.Meta.FailureReason)
	assert.Equal(t, 0, resp.Meta.ResultCount)
}

func TestConvertPlace_PhotoProxy(t *testing.T) {
	p := samplePlace("p1", "Tony's", 4.5, 100)
	p.PhotoRef = "places/p1/photos/ref123"

	r := convertPlace(p, nil)

	assert.Equal(t, "/api/v1/photos/places/p1/photos/ref123", r.PhotoURL)
	assert.Nil(t, r.DistanceMeters)

	bare := convertPlace(samplePlace("p2", "No Photo", 4.0, 10), nil)
	assert.Empty(t, bare.PhotoURL)
}

func TestScorePlace_SoftHintBonus(t *testing.T) {
	fx := newFixture(t)

	kosher := samplePlace("k", "Kosher Deli", 4.0, 100)
	plain := samplePlace("p", "Some Deli", 4.0, 100)
	yes := true
	hints := models.PostConstraints{IsKosher: &yes}

	withBonus := fx.orch.scorePlace(kosher, nil, hints)
	without := fx.orch.scorePlace(plain, nil, hints)

	assert.InDelta(t, fx.cfg.Tuning.Ranking.SoftHintBonus, withBonus-without, 1e-9)
}

func TestAppliedFilterTags(t *testing.T) {
	open := models.OpenNow
	price := 2
	yes := true

	tests := []struct {
		name    string
		filters models.SharedFilters
		hints   models.PostConstraints
		want    []string
	}{
		{
			name:    "hard filters",
			filters: models.SharedFilters{OpenState: &open, PriceLevel: &price, IsKosher: &yes, Requirements: []string{"parking"}},
			want:    []string{"openNow", "price", "kosher", "parking"},
		},
		{
			name:  "soft hints",
			hints: models.PostConstraints{IsGlutenFree: &yes, Requirements: []string{"view"}},
			want:  []string{"glutenFree:soft", "view:soft"},
		},
		{
			name:    "hard shadows soft",
			filters: models.SharedFilters{IsKosher: &yes},
			hints:   models.PostConstraints{IsKosher: &yes, PriceLevel: &price},
			want:    []string{"kosher", "price:soft"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, appliedFilterTags(tt.filters, tt.hints))
		})
	}
}

func TestBuildChips_RedundantChipsDropped(t *testing.T) {
	fx := newFixture(t)

	chips := fx.orch.buildChips([]string{"openNow", "kosher:soft"}, "en")

	ids := make([]string, 0, len(chips))
	for _, c := range chips {
		ids = append(ids, c.ID)
	}
	assert.NotContains(t, ids, "open_now", "already applied")
	assert.NotContains(t, ids, "kosher", "soft hint makes the chip redundant")
	assert.Contains(t, ids, "gluten_free")
	assert.Contains(t, ids, "delivery")
}

func TestBuildChips_LocalizedLabels(t *testing.T) {
	fx := newFixture(t)

	chips := fx.orch.buildChips(nil, "he")

	require.NotEmpty(t, chips)
	for _, c := range chips {
		if c.ID == "kosher" {
			assert.Equal(t, "כשר", c.Label)
			return
		}
	}
	t.Fatal("kosher chip missing")
}

func TestBuildChips_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	fx := newFixture(t)

	chips := fx.orch.buildChips(nil, "other")

	require.NotEmpty(t, chips)
	assert.Equal(t, "Open now", chips[0].Label)
}
