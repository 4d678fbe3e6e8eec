package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dineseek/dineseek/pkg/models"
)

const (
	defaultPlacesBaseURL  = "https://places.googleapis.com"
	defaultGeocodeBaseURL = "https://maps.googleapis.com"

	// searchFieldMask limits the provider response to the fields the
	// pipeline consumes. Narrower masks are billed cheaper.
	searchFieldMask = "places.id,places.displayName,places.formattedAddress," +
		"places.location,places.rating,places.userRatingCount,places.priceLevel," +
		"places.currentOpeningHours.openNow,places.types,places.photos"

	maxProviderResults = 20
)

// GoogleClient adapts the Google Places API (New) for search and the
// Geocoding API for landmark and region resolution. The API key travels in
// headers or query strings only; it is never logged and never reaches a
// client-facing payload.
type GoogleClient struct {
	apiKey      string
	placesBase  string
	geocodeBase string
	client      *http.Client
}

// Option configures the Google adapter.
type Option func(*GoogleClient)

// WithBaseURL points both provider hosts at one base, for tests and proxies.
func WithBaseURL(baseURL string) Option {
	return func(c *GoogleClient) {
		if baseURL != "" {
			c.placesBase = baseURL
			c.geocodeBase = baseURL
		}
	}
}

// WithHTTPClient substitutes the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *GoogleClient) { c.client = client }
}

// NewGoogleClient creates the adapter. Deadlines come from the caller's
// context, not from the HTTP client.
func NewGoogleClient(apiKey string, opts ...Option) *GoogleClient {
	c := &GoogleClient{
		apiKey:      apiKey,
		placesBase:  defaultPlacesBaseURL,
		geocodeBase: defaultGeocodeBaseURL,
		client:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type latLngJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type circleJSON struct {
	Center latLngJSON `json:"center"`
	Radius float64    `json:"radius"`
}

type circleAreaJSON struct {
	Circle circleJSON `json:"circle"`
}

type textSearchRequest struct {
	TextQuery      string          `json:"textQuery"`
	RegionCode     string          `json:"regionCode,omitempty"`
	LanguageCode   string          `json:"languageCode,omitempty"`
	IncludedType   string          `json:"includedType,omitempty"`
	OpenNow        bool            `json:"openNow,omitempty"`
	MaxResultCount int             `json:"maxResultCount,omitempty"`
	PriceLevels    []string        `json:"priceLevels,omitempty"`
	LocationBias   *circleAreaJSON `json:"locationBias,omitempty"`
}

type nearbyRequest struct {
	IncludedTypes       []string       `json:"includedTypes"`
	MaxResultCount      int            `json:"maxResultCount,omitempty"`
	RankPreference      string         `json:"rankPreference,omitempty"`
	LanguageCode        string         `json:"languageCode,omitempty"`
	RegionCode          string         `json:"regionCode,omitempty"`
	LocationRestriction circleAreaJSON `json:"locationRestriction"`
}

type displayNameJSON struct {
	Text string `json:"text"`
}

type openingHoursJSON struct {
	OpenNow *bool `json:"openNow"`
}

type photoJSON struct {
	Name string `json:"name"`
}

type placeJSON struct {
	ID                  string            `json:"id"`
	DisplayName         displayNameJSON   `json:"displayName"`
	FormattedAddress    string            `json:"formattedAddress"`
	Location            latLngJSON        `json:"location"`
	Rating              *float64          `json:"rating"`
	UserRatingCount     *int              `json:"userRatingCount"`
	PriceLevel          string            `json:"priceLevel"`
	CurrentOpeningHours *openingHoursJSON `json:"currentOpeningHours"`
	Types               []string          `json:"types"`
	Photos              []photoJSON       `json:"photos"`
}

type searchResponse struct {
	Places []placeJSON `json:"places"`
}

// TextSearch runs places:searchText with restaurant scoping.
func (c *GoogleClient) TextSearch(ctx context.Context, params TextSearchParams) ([]Place, error) {
	req := textSearchRequest{
		TextQuery:      params.Query,
		RegionCode:     strings.ToUpper(params.RegionCode),
		LanguageCode:   params.LanguageCode,
		IncludedType:   "restaurant",
		OpenNow:        params.OpenNow,
		MaxResultCount: clampResults(params.MaxResults),
		PriceLevels:    priceLevelRange(params.MinPriceLevel, params.MaxPriceLevel),
	}
	if params.Bias != nil {
		radius := float64(params.BiasRadiusMeters)
		if radius <= 0 {
			radius = 5000
		}
		req.LocationBias = &circleAreaJSON{Circle: circleJSON{
			Center: latLngJSON{Latitude: params.Bias.Lat, Longitude: params.Bias.Lng},
			Radius: radius,
		}}
	}

	var resp searchResponse
	if err := c.postPlaces(ctx, "/v1/places:searchText", req, &resp); err != nil {
		return nil, err
	}
	return convertPlaces(resp.Places), nil
}

// Nearby runs places:searchNearby restricted to restaurants around a point.
func (c *GoogleClient) Nearby(ctx context.Context, params NearbyParams) ([]Place, error) {
	req := nearbyRequest{
		IncludedTypes:  []string{"restaurant"},
		MaxResultCount: clampResults(params.MaxResults),
		RankPreference: "POPULARITY",
		LanguageCode:   params.LanguageCode,
		RegionCode:     strings.ToUpper(params.RegionCode),
	}
	req.LocationRestriction = circleAreaJSON{Circle: circleJSON{
		Center: latLngJSON{Latitude: params.Center.Lat, Longitude: params.Center.Lng},
		Radius: float64(params.RadiusMeters),
	}}

	var resp searchResponse
	if err := c.postPlaces(ctx, "/v1/places:searchNearby", req, &resp); err != nil {
		return nil, err
	}
	return convertPlaces(resp.Places), nil
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

// Geocode resolves a landmark or address to a coordinate.
func (c *GoogleClient) Geocode(ctx context.Context, params GeocodeParams) (*models.LatLng, error) {
	query := url.Values{}
	query.Set("address", params.Address)
	if params.RegionCode != "" {
		query.Set("region", strings.ToLower(params.RegionCode))
	}
	if params.LanguageCode != "" {
		query.Set("language", params.LanguageCode)
	}

	var resp geocodeResponse
	if err := c.getGeocode(ctx, query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, params.Address)
	}

	loc := resp.Results[0].Geometry.Location
	return &models.LatLng{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// ReverseRegion resolves a coordinate to its lowercase country code.
func (c *GoogleClient) ReverseRegion(ctx context.Context, point models.LatLng) (string, error) {
	query := url.Values{}
	query.Set("latlng", fmt.Sprintf("%f,%f", point.Lat, point.Lng))
	query.Set("result_type", "country")

	var resp geocodeResponse
	if err := c.getGeocode(ctx, query, &resp); err != nil {
		return "", err
	}

	for _, result := range resp.Results {
		for _, component := range result.AddressComponents {
			for _, t := range component.Types {
				if t == "country" {
					return strings.ToLower(component.ShortName), nil
				}
			}
		}
	}
	return "", fmt.Errorf("%w: no country at %f,%f", ErrNotFound, point.Lat, point.Lng)
}

// PhotoURL builds the upstream media URL for the photo proxy. The key is
// appended here and stripped from anything the client sees.
func (c *GoogleClient) PhotoURL(placeID, photoID string, maxWidthPx int) string {
	return fmt.Sprintf("%s/v1/places/%s/photos/%s/media?maxWidthPx=%d&key=%s",
		c.placesBase, url.PathEscape(placeID), url.PathEscape(photoID), maxWidthPx, url.QueryEscape(c.apiKey))
}

// PhotoStream is an open upstream photo response ready to proxy.
type PhotoStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// FetchPhoto opens the upstream photo media stream.
func (c *GoogleClient) FetchPhoto(ctx context.Context, placeID, photoID string, maxWidthPx int) (*PhotoStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PhotoURL(placeID, photoID, maxWidthPx), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.redact(mapTransportError(err))
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: photo %s/%s", ErrNotFound, placeID, photoID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		return nil, mapStatusError(resp.StatusCode, body)
	}

	return &PhotoStream{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *GoogleClient) postPlaces(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.placesBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	return c.do(req, out)
}

func (c *GoogleClient) getGeocode(ctx context.Context, query url.Values, out *geocodeResponse) error {
	query.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeBase+"/maps/api/geocode/json?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if err := c.do(req, out); err != nil {
		return err
	}
	return mapGeocodeStatus(out.Status, out.ErrorMessage)
}

func (c *GoogleClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return c.redact(mapTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return mapStatusError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// redactedError hides key-bearing error text while keeping the classified
// chain intact for errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redact masks the API key in an error's text. Geocode and photo request
// URLs carry the key as a query parameter, and transport errors embed the
// full URL; that text ends up in error frames and logs.
func (c *GoogleClient) redact(err error) error {
	if err == nil || c.apiKey == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, c.apiKey) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, c.apiKey, "[redacted]"), err: err}
}

// mapTransportError folds context and network failures onto the sentinels.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrDNS, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("http request: %w", err)
}

func mapStatusError(status int, body []byte) error {
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	switch {
	case status == http.StatusTooManyRequests || bytes.Contains(body, []byte("RESOURCE_EXHAUSTED")):
		return fmt.Errorf("%w: status %d: %s", ErrQuota, status, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrProvider, status, body)
	}
}

// mapGeocodeStatus folds the geocoding envelope status onto the sentinels.
// ZERO_RESULTS is reported as ErrNotFound so callers can fall back cleanly.
func mapGeocodeStatus(status, message string) error {
	switch status {
	case "OK", "ZERO_RESULTS", "":
		return nil
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT", "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %s: %s", ErrQuota, status, message)
	default:
		return fmt.Errorf("%w: %s: %s", ErrProvider, status, message)
	}
}

func clampResults(n int) int {
	if n <= 0 || n > maxProviderResults {
		return maxProviderResults
	}
	return n
}

// priceLevelRange maps 1..4 bounds onto the provider's enum names.
func priceLevelRange(minLevel, maxLevel int) []string {
	names := map[int]string{
		1: "PRICE_LEVEL_INEXPENSIVE",
		2: "PRICE_LEVEL_MODERATE",
		3: "PRICE_LEVEL_EXPENSIVE",
		4: "PRICE_LEVEL_VERY_EXPENSIVE",
	}
	if minLevel <= 0 && maxLevel <= 0 {
		return nil
	}
	if minLevel <= 0 {
		minLevel = 1
	}
	if maxLevel <= 0 || maxLevel > 4 {
		maxLevel = 4
	}
	var levels []string
	for level := minLevel; level <= maxLevel; level++ {
		if name, ok := names[level]; ok {
			levels = append(levels, name)
		}
	}
	return levels
}

func parsePriceLevel(name string) *int {
	levels := map[string]int{
		"PRICE_LEVEL_FREE":           0,
		"PRICE_LEVEL_INEXPENSIVE":    1,
		"PRICE_LEVEL_MODERATE":       2,
		"PRICE_LEVEL_EXPENSIVE":      3,
		"PRICE_LEVEL_VERY_EXPENSIVE": 4,
	}
	if level, ok := levels[name]; ok {
		return &level
	}
	return nil
}

func convertPlaces(raw []placeJSON) []Place {
	out := make([]Place, 0, len(raw))
	for _, p := range raw {
		place := Place{
			ID:              p.ID,
			Name:            p.DisplayName.Text,
			Address:         p.FormattedAddress,
			Location:        models.LatLng{Lat: p.Location.Latitude, Lng: p.Location.Longitude},
			Rating:          p.Rating,
			UserRatingCount: p.UserRatingCount,
			PriceLevel:      parsePriceLevel(p.PriceLevel),
			Types:           p.Types,
		}
		if p.CurrentOpeningHours != nil {
			place.OpenNow = p.CurrentOpeningHours.OpenNow
		}
		if len(p.Photos) > 0 {
			place.PhotoRef = p.Photos[0].Name
		}
		out = append(out, place)
	}
	return out
}
