package pipeline

import (
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/places"
	"github.com/dineseek/dineseek/pkg/version"
)

// responseInput is everything the response builder needs.
type responseInput struct {
	rctx     Context
	filters  models.SharedFilters
	hints    models.PostConstraints
	provider providerResult
}

// buildResponse scores, sorts and groups the provider places, applies the
// soft hints and assembles the response with its meta block. The assist echo
// stays empty: the SUMMARY narration arrives over the assistant channel.
func (o *Route2Orchestrator) buildResponse(in responseInput) models.SearchResponse {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageRespond, time.Since(started)) }()

	applied := appliedFilterTags(in.filters, in.hints)

	results := make([]models.RestaurantResult, 0, len(in.provider.Places))
	for _, p := range in.provider.Places {
		r := convertPlace(p, in.provider.Anchor)
		r.Score = o.scorePlace(p, r.DistanceMeters, in.hints)
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	var groups *models.ResultGroups
	if in.provider.Grouped && in.provider.Anchor != nil {
		groups = groupResults(results, o.cfg.Tuning.Nearby.ExactGroupRadiusMeters)
	}

	meta := models.ResponseMeta{
		Source:           sourceRoute2,
		RegionCode:       in.filters.RegionCode,
		UILanguage:       in.filters.UILanguage,
		AppliedFilters:   applied,
		ResultCount:      len(results),
		TraceID:          in.rctx.TraceID,
		ContractsVersion: version.ContractsVersion,
	}
	if len(results) == 0 {
		meta.FailureReason = models.FailureNoResults
	}

	return models.SearchResponse{
		Results: results,
		Groups:  groups,
		Chips:   o.buildChips(applied, in.filters.UILanguage),
		Assist:  models.AssistEcho{},
		Meta:    meta,
	}
}

// convertPlace maps a provider place onto the response shape. The photo
// reference is replaced by the proxy path; provider keys never appear in
// responses.
func convertPlace(p places.Place, anchor *models.LatLng) models.RestaurantResult {
	r := models.RestaurantResult{
		PlaceID:         p.ID,
		Name:            p.Name,
		Address:         p.Address,
		Location:        p.Location,
		Rating:          p.Rating,
		UserRatingCount: p.UserRatingCount,
		OpenNow:         p.OpenNow,
		PriceLevel:      p.PriceLevel,
		PhotoRef:        p.PhotoRef,
		PhotoURL:        photoProxyPath(p.PhotoRef),
	}
	if anchor != nil {
		d := int(haversineMeters(*anchor, p.Location))
		r.DistanceMeters = &d
	}
	return r
}

// photoProxyPath turns the provider photo resource name, shaped
// "places/<placeId>/photos/<photoId>", into the proxy URL clients fetch.
func photoProxyPath(ref string) string {
	if ref == "" {
		return ""
	}
	return "/api/v1/photos/" + ref
}

// scorePlace ranks by rating, popularity and distance, with a flat bonus
// when the place matches a soft hint.
func (o *Route2Orchestrator) scorePlace(p places.Place, distance *int, hints models.PostConstraints) float64 {
	w := o.cfg.Tuning.Ranking

	var score float64
	if p.Rating != nil {
		score += *p.Rating * w.RatingWeight
	}
	if p.UserRatingCount != nil && *p.UserRatingCount > 0 {
		score += math.Log1p(float64(*p.UserRatingCount)) * w.PopularityWeight
	}
	if distance != nil {
		score -= float64(*distance) / 1000 * w.DistanceWeight
	}
	if matchesHints(p, hints) {
		score += w.SoftHintBonus
	}
	return score
}

// matchesHints reports whether a place satisfies any soft hint. Matching is
// heuristic over the place name and types; hints only ever add score.
func matchesHints(p places.Place, hints models.PostConstraints) bool {
	if hints.Empty() {
		return false
	}

	name := strings.ToLower(p.Name)
	types := strings.ToLower(strings.Join(p.Types, " "))

	if hints.IsKosher != nil && (strings.Contains(name, "kosher") || strings.Contains(types, "kosher") || strings.Contains(p.Name, "כשר")) {
		return true
	}
	if hints.IsGlutenFree != nil && (strings.Contains(name, "gluten") || strings.Contains(types, "gluten")) {
		return true
	}
	if hints.PriceLevel != nil && p.PriceLevel != nil && *p.PriceLevel <= *hints.PriceLevel {
		return true
	}
	for _, req := range hints.Requirements {
		r := strings.ToLower(strings.TrimSpace(req))
		if r != "" && (strings.Contains(name, r) || strings.Contains(types, r)) {
			return true
		}
	}
	return false
}

// appliedFilterTags renders the filter provenance for the response meta.
// Hard filters use bare tags; soft hints carry the :soft suffix and never
// shadow a hard tag for the same concern.
func appliedFilterTags(filters models.SharedFilters, hints models.PostConstraints) []string {
	var tags []string
	if filters.OpenState != nil && *filters.OpenState == models.OpenNow {
		tags = append(tags, "openNow")
	}
	if filters.PriceLevel != nil {
		tags = append(tags, "price")
	}
	if filters.IsKosher != nil && *filters.IsKosher {
		tags = append(tags, "kosher")
	}
	if filters.IsGlutenFree != nil && *filters.IsGlutenFree {
		tags = append(tags, "glutenFree")
	}
	for _, r := range filters.Requirements {
		if r = strings.TrimSpace(r); r != "" && !slices.Contains(tags, r) {
			tags = append(tags, r)
		}
	}

	if hints.IsKosher != nil && *hints.IsKosher && !slices.Contains(tags, "kosher") {
		tags = append(tags, "kosher:soft")
	}
	if hints.IsGlutenFree != nil && *hints.IsGlutenFree && !slices.Contains(tags, "glutenFree") {
		tags = append(tags, "glutenFree:soft")
	}
	if hints.PriceLevel != nil && !slices.Contains(tags, "price") {
		tags = append(tags, "price:soft")
	}
	for _, r := range hints.Requirements {
		r = strings.TrimSpace(r)
		if r != "" && !slices.Contains(tags, r) && !slices.Contains(tags, r+":soft") {
			tags = append(tags, r+":soft")
		}
	}
	return tags
}

// groupResults buckets results by distance from the anchor.
func groupResults(results []models.RestaurantResult, exactRadiusMeters int) *models.ResultGroups {
	groups := &models.ResultGroups{
		Exact:  []models.RestaurantResult{},
		Nearby: []models.RestaurantResult{},
	}
	for i := range results {
		r := &results[i]
		if r.DistanceMeters != nil && *r.DistanceMeters <= exactRadiusMeters {
			r.GroupKind = models.GroupExact
			groups.Exact = append(groups.Exact, *r)
		} else {
			r.GroupKind = models.GroupNearby
			groups.Nearby = append(groups.Nearby, *r)
		}
	}
	return groups
}

// buildChips offers the refinement chips that are not already redundant
// with an applied filter.
func (o *Route2Orchestrator) buildChips(applied []string, uiLanguage string) []models.Chip {
	var chips []models.Chip
	for _, def := range o.cfg.Tuning.Chips {
		redundant := false
		for _, tag := range def.When {
			if slices.Contains(applied, tag) {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		chips = append(chips, models.Chip{
			ID:    def.ID,
			Label: def.ChipLabel(uiLanguage),
			Query: def.Query,
		})
	}
	return chips
}
