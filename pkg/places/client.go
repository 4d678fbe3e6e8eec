// Package places abstracts the restaurant data provider. The pipeline sees
// the Client interface; the Google adapter and the caching decorator live
// behind it.
package places

import (
	"context"
	"errors"

	"github.com/dineseek/dineseek/pkg/models"
)

var (
	// ErrTimeout means the provider call exceeded its deadline.
	ErrTimeout = errors.New("places call timed out")

	// ErrQuota means the provider throttled or exhausted the quota.
	ErrQuota = errors.New("places quota exceeded")

	// ErrDNS means the provider host failed to resolve.
	ErrDNS = errors.New("places dns resolution failed")

	// ErrNotFound means a geocode produced no result.
	ErrNotFound = errors.New("location not found")

	// ErrProvider covers all other provider-side failures.
	ErrProvider = errors.New("places provider error")
)

// Place is one provider result, normalized.
type Place struct {
	ID              string
	Name            string
	Address         string
	Location        models.LatLng
	Rating          *float64
	UserRatingCount *int
	PriceLevel      *int
	OpenNow         *bool
	Types           []string
	PhotoRef        string
}

// TextSearchParams drive a free-text provider query.
type TextSearchParams struct {
	Query        string
	RegionCode   string
	LanguageCode string
	// Bias biases (not restricts) results around a point when set.
	Bias *models.LatLng
	// BiasRadiusMeters applies with Bias; zero means the provider default.
	BiasRadiusMeters int
	OpenNow          bool
	MinPriceLevel    int
	MaxPriceLevel    int
	MaxResults       int
}

// NearbyParams drive a location-restricted search around a point.
type NearbyParams struct {
	Center       models.LatLng
	RadiusMeters int
	LanguageCode string
	RegionCode   string
	MaxResults   int
}

// GeocodeParams resolve a named place to a coordinate.
type GeocodeParams struct {
	Address      string
	RegionCode   string
	LanguageCode string
}

// Client is the provider surface the pipeline consumes.
type Client interface {
	// TextSearch runs a free-text restaurant query.
	TextSearch(ctx context.Context, params TextSearchParams) ([]Place, error)

	// Nearby returns restaurants around a point, nearest-biased.
	Nearby(ctx context.Context, params NearbyParams) ([]Place, error)

	// Geocode resolves a landmark or address to a point, or ErrNotFound.
	Geocode(ctx context.Context, params GeocodeParams) (*models.LatLng, error)

	// ReverseRegion resolves a coordinate to a lowercase ISO region code.
	ReverseRegion(ctx context.Context, point models.LatLng) (string, error)
}
