package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/places"
)

// providerResult carries the provider places plus the anchor used for
// distance and grouping downstream.
type providerResult struct {
	Places []places.Place
	Anchor *models.LatLng
	// Grouped enables EXACT/NEARBY bucketing in the response.
	Grouped bool
}

// runProvider executes the mapped plan against the places client.
func (o *Route2Orchestrator) runProvider(ctx context.Context, rctx Context, plan providerPlan, filters models.SharedFilters, loc *models.LatLng, explicitDistance int) (providerResult, error) {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageGoogle, time.Since(started)) }()

	switch plan.Route {
	case models.RouteNearby:
		return o.runNearby(ctx, plan, filters, loc, explicitDistance)
	case models.RouteLandmarkPlan:
		return o.runLandmark(ctx, rctx, plan, filters)
	default:
		return o.runTextSearch(ctx, rctx, plan, filters, loc)
	}
}

// runTextSearch executes a free-text query. A biased query that comes back
// nearly empty gets one broader attempt without the bias and region.
func (o *Route2Orchestrator) runTextSearch(ctx context.Context, rctx Context, plan providerPlan, filters models.SharedFilters, loc *models.LatLng) (providerResult, error) {
	params := places.TextSearchParams{
		Query:        plan.TextQuery,
		RegionCode:   filters.RegionCode,
		LanguageCode: filters.ProviderLanguage,
		OpenNow:      wantsOpenNow(filters),
		Bias:         loc,
	}
	if filters.PriceLevel != nil {
		params.MaxPriceLevel = *filters.PriceLevel
	}

	results, err := o.places.TextSearch(ctx, params)
	if err != nil {
		return providerResult{}, err
	}

	if len(results) < o.cfg.Tuning.Ranking.RetryMinResults && (params.Bias != nil || params.RegionCode != "") {
		retry := params
		retry.Bias = nil
		retry.BiasRadiusMeters = 0
		retry.RegionCode = ""
		broader, retryErr := o.places.TextSearch(ctx, retry)
		if retryErr != nil {
			slog.Warn("textsearch_broad_retry_failed", "request_id", rctx.RequestID, "error", retryErr)
		} else if len(broader) > len(results) {
			slog.Info("textsearch_broad_retry_used",
				"request_id", rctx.RequestID,
				"biased_count", len(results),
				"broad_count", len(broader))
			results = broader
		}
	}

	return providerResult{Places: results, Anchor: loc}, nil
}

// runNearby executes a location-restricted search around the user.
func (o *Route2Orchestrator) runNearby(ctx context.Context, plan providerPlan, filters models.SharedFilters, loc *models.LatLng, explicitDistance int) (providerResult, error) {
	if loc == nil {
		return providerResult{}, ErrNoLocation
	}

	radius := plan.RadiusMeters
	if explicitDistance > 0 {
		radius = explicitDistance
	}
	radius = clampRadius(radius, o.cfg.Tuning.Nearby)

	results, err := o.places.Nearby(ctx, places.NearbyParams{
		Center:       *loc,
		RadiusMeters: radius,
		LanguageCode: filters.ProviderLanguage,
		RegionCode:   filters.RegionCode,
	})
	if err != nil {
		return providerResult{}, err
	}
	return providerResult{Places: results, Anchor: loc, Grouped: true}, nil
}

// runLandmark geocodes the anchor, then searches around it. An anchor the
// geocoder cannot resolve degrades to an empty result set.
func (o *Route2Orchestrator) runLandmark(ctx context.Context, rctx Context, plan providerPlan, filters models.SharedFilters) (providerResult, error) {
	point, err := o.geocodeLandmark(ctx, plan.Landmark, filters)
	if err != nil {
		if errors.Is(err, places.ErrNotFound) {
			slog.Info("landmark_not_found", "request_id", rctx.RequestID, "landmark", plan.Landmark)
			return providerResult{Grouped: true}, nil
		}
		return providerResult{}, err
	}

	params := places.TextSearchParams{
		Query:            plan.TextQuery,
		RegionCode:       filters.RegionCode,
		LanguageCode:     filters.ProviderLanguage,
		Bias:             point,
		BiasRadiusMeters: o.cfg.Tuning.Nearby.MaxRadiusMeters,
		OpenNow:          wantsOpenNow(filters),
	}
	if filters.PriceLevel != nil {
		params.MaxPriceLevel = *filters.PriceLevel
	}

	results, err := o.places.TextSearch(ctx, params)
	if err != nil {
		return providerResult{}, err
	}
	return providerResult{Places: results, Anchor: point, Grouped: true}, nil
}

// geocodeLandmark resolves the landmark anchor, retrying once. A definitive
// not-found is never retried.
func (o *Route2Orchestrator) geocodeLandmark(ctx context.Context, landmark string, filters models.SharedFilters) (*models.LatLng, error) {
	var point *models.LatLng
	operation := func() error {
		p, err := o.places.Geocode(ctx, places.GeocodeParams{
			Address:      landmark,
			RegionCode:   filters.RegionCode,
			LanguageCode: filters.ProviderLanguage,
		})
		if err != nil {
			if errors.Is(err, places.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		point = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return point, nil
}

func wantsOpenNow(filters models.SharedFilters) bool {
	return filters.OpenState != nil && *filters.OpenState == models.OpenNow
}

func clampRadius(radius int, tuning config.NearbyTuning) int {
	if radius <= 0 {
		return tuning.DefaultRadiusMeters
	}
	if radius > tuning.MaxRadiusMeters {
		return tuning.MaxRadiusMeters
	}
	if radius < 100 {
		return 100
	}
	return radius
}
