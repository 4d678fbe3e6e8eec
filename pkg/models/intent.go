package models

// RouteKind selects the provider strategy for a query.
type RouteKind string

const (
	RouteTextSearch   RouteKind = "TEXTSEARCH"
	RouteNearby       RouteKind = "NEARBY"
	RouteLandmarkPlan RouteKind = "LANDMARK_PLAN"
	RouteStop         RouteKind = "STOP"
	RouteClarify      RouteKind = "CLARIFY"
)

// Intent is the structured output of the intent stage. RegionCandidate is
// advisory only; the final regionCode is resolved by the shared-filters
// stage and is the sole region used downstream.
type Intent struct {
	Route                  RouteKind `json:"route"`
	RegionCandidate        string    `json:"regionCandidate,omitempty"`
	Language               string    `json:"language"`
	FoodAnchor             string    `json:"foodAnchor,omitempty"`
	LocationAnchor         string    `json:"locationAnchor,omitempty"`
	NearMe                 bool      `json:"nearMe"`
	ExplicitDistanceMeters int       `json:"explicitDistanceMeters,omitempty"`
	Reason                 string    `json:"reason,omitempty"`
}

// OpenState narrows results by opening hours.
type OpenState string

const (
	OpenNow   OpenState = "OPEN_NOW"
	OpenLater OpenState = "OPEN_LATER"
)

// SharedFilters is the canonical filter set every downstream stage reads.
// It is constructed once, after the gate, from user location, intent
// candidate, session default and configured fallback, in that priority
// order. Pointer fields are tri-state: nil means the user did not ask.
type SharedFilters struct {
	RegionCode       string     `json:"regionCode"`
	UILanguage       string     `json:"uiLanguage"`
	ProviderLanguage string     `json:"providerLanguage"`
	OpenState        *OpenState `json:"openState,omitempty"`
	PriceLevel       *int       `json:"priceLevel,omitempty"`
	IsKosher         *bool      `json:"isKosher,omitempty"`
	IsGlutenFree     *bool      `json:"isGlutenFree,omitempty"`
	Requirements     []string   `json:"requirements,omitempty"`
}

// PostConstraints are soft hints extracted in parallel with base filters.
// They may reorder or tag results but never remove them and never change
// the provider query. false is never set: absence means "user did not ask".
type PostConstraints struct {
	IsKosher     *bool    `json:"isKosher,omitempty"`
	IsGlutenFree *bool    `json:"isGlutenFree,omitempty"`
	PriceLevel   *int     `json:"priceLevel,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// Empty reports whether no hint was extracted.
func (p *PostConstraints) Empty() bool {
	if p == nil {
		return true
	}
	return p.IsKosher == nil && p.IsGlutenFree == nil && p.PriceLevel == nil && len(p.Requirements) == 0
}
