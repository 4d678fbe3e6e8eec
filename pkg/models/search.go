package models

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RequestFilters carries the client-side filters attached to a search
// request. All fields are optional; nil means the user did not ask.
type RequestFilters struct {
	OpenNow    *bool    `json:"openNow,omitempty"`
	PriceLevel *int     `json:"priceLevel,omitempty"`
	Dietary    []string `json:"dietary,omitempty"`
	MustHave   []string `json:"mustHave,omitempty"`
}

// SearchRequest is the client's natural-language search. Immutable after
// accept: the async runner copies it into the detached execution context.
type SearchRequest struct {
	Query        string          `json:"query"`
	UserLocation *LatLng         `json:"userLocation,omitempty"`
	Locale       string          `json:"locale,omitempty"`
	Filters      *RequestFilters `json:"filters,omitempty"`
	ClearContext bool            `json:"clearContext,omitempty"`
}

// GroupKind buckets a result by how directly it matched the query anchor.
type GroupKind string

const (
	GroupExact  GroupKind = "EXACT"
	GroupNearby GroupKind = "NEARBY"
)

// RestaurantResult is one ranked restaurant. PhotoRef is an opaque provider
// token; clients fetch images only through the photo proxy, so no provider
// API key ever appears in a response.
type RestaurantResult struct {
	PlaceID         string    `json:"placeId"`
	Name            string    `json:"name"`
	Address         string    `json:"address,omitempty"`
	Location        LatLng    `json:"location"`
	Rating          *float64  `json:"rating,omitempty"`
	UserRatingCount *int      `json:"userRatingCount,omitempty"`
	OpenNow         *bool     `json:"openNow,omitempty"`
	PriceLevel      *int      `json:"priceLevel,omitempty"`
	PhotoURL        string    `json:"photoUrl,omitempty"`
	DistanceMeters  *int      `json:"distanceMeters,omitempty"`
	Score           float64   `json:"score,omitempty"`
	GroupKind       GroupKind `json:"groupKind,omitempty"`

	// PhotoRef is the raw provider photo token. Never serialized.
	PhotoRef string `json:"-"`
}

// ResultGroups splits results into exact and nearby buckets for landmark
// and near-me searches.
type ResultGroups struct {
	Exact  []RestaurantResult `json:"exact"`
	Nearby []RestaurantResult `json:"nearby"`
}

// Chip is a suggested follow-up refinement rendered by the client.
type Chip struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Query string `json:"query,omitempty"`
}

// AssistEcho is the assistant text echoed on the HTTP response. Async mode
// always returns an empty message; narration arrives over the assistant
// WebSocket channel.
type AssistEcho struct {
	Message string `json:"message"`
}

// ResponseMeta carries provenance and diagnostics for a search response.
type ResponseMeta struct {
	Source           string   `json:"source"`
	FailureReason    string   `json:"failureReason,omitempty"`
	RegionCode       string   `json:"regionCode,omitempty"`
	UILanguage       string   `json:"uiLanguage,omitempty"`
	AppliedFilters   []string `json:"appliedFilters,omitempty"`
	ResultCount      int      `json:"resultCount"`
	TraceID          string   `json:"traceId,omitempty"`
	ContractsVersion string   `json:"contractsVersion"`
}

// SearchResponse is the terminal payload of a search, returned on the HTTP
// result endpoint and summarized over WebSocket.
type SearchResponse struct {
	Results []RestaurantResult `json:"results"`
	Groups  *ResultGroups      `json:"groups,omitempty"`
	Chips   []Chip             `json:"chips,omitempty"`
	Assist  AssistEcho         `json:"assist"`
	Meta    ResponseMeta       `json:"meta"`
}

// Failure reasons surfaced in ResponseMeta for empty-but-successful searches.
const (
	FailureLowConfidence    = "LOW_CONFIDENCE"
	FailureLocationRequired = "LOCATION_REQUIRED"
	FailureNoResults        = "NO_RESULTS"
)

// ResultPath is the polling URL for an async search, relative to the API
// origin. Echoed in the 202 envelope and in ready frames.
func ResultPath(requestID string) string {
	return "/api/v1/search/" + requestID + "/result"
}
