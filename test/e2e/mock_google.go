package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// PlaceDoc is one place in the provider's wire shape. Built as a raw map so
// the tests stay decoupled from the adapter's internal request structs.
type PlaceDoc map[string]any

// NewPlaceDoc builds a wire place with a photo reference and the fields the
// pipeline consumes.
func NewPlaceDoc(id, name string, lat, lng, rating float64) PlaceDoc {
	return PlaceDoc{
		"id":                  id,
		"displayName":         map[string]any{"text": name},
		"formattedAddress":    name + " St 1",
		"location":            map[string]any{"latitude": lat, "longitude": lng},
		"rating":              rating,
		"userRatingCount":     120,
		"priceLevel":          "PRICE_LEVEL_MODERATE",
		"currentOpeningHours": map[string]any{"openNow": true},
		"types":               []string{"restaurant"},
		"photos":              []map[string]any{{"name": "places/" + id + "/photos/photo-1"}},
	}
}

// GooglePlacesServer is a scripted stand-in for the Places API (New) and
// the Geocoding API. One instance answers both; the harness points both
// provider base URLs at it.
type GooglePlacesServer struct {
	srv *httptest.Server

	mu          sync.Mutex
	places      []PlaceDoc
	regionCode  string             // country short name for reverse geocoding
	geocodeHits map[string][2]float64
	searchDelay time.Duration // stall applied to both search endpoints
	photoBody   []byte

	textCalls     int
	nearbyCalls   int
	geocodeCalls  int
	reverseCalls  int
	photoCalls    int
	lastTextQuery string
}

// NewGooglePlacesServer starts the scripted server. Shutdown is registered
// via t.Cleanup.
func NewGooglePlacesServer(t *testing.T) *GooglePlacesServer {
	t.Helper()

	g := &GooglePlacesServer{
		regionCode:  "IL",
		geocodeHits: make(map[string][2]float64),
		photoBody:   []byte("jpeg-bytes"),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

// URL returns the server's base URL.
func (g *GooglePlacesServer) URL() string { return g.srv.URL }

// SetPlaces scripts the result list both search endpoints return.
func (g *GooglePlacesServer) SetPlaces(places ...PlaceDoc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.places = places
}

// SetRegion scripts the country code reverse geocoding resolves to.
func (g *GooglePlacesServer) SetRegion(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regionCode = code
}

// SetGeocode scripts a forward-geocoding hit for an address.
func (g *GooglePlacesServer) SetGeocode(address string, lat, lng float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.geocodeHits[strings.ToLower(address)] = [2]float64{lat, lng}
}

// StallSearches delays both search endpoints by d. The handler honors the
// request context, so a caller that gives up unblocks immediately.
func (g *GooglePlacesServer) StallSearches(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searchDelay = d
}

// TextCalls returns how many text searches were served.
func (g *GooglePlacesServer) TextCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.textCalls
}

// NearbyCalls returns how many nearby searches were served.
func (g *GooglePlacesServer) NearbyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nearbyCalls
}

// ReverseCalls returns how many reverse-geocode lookups were served.
func (g *GooglePlacesServer) ReverseCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reverseCalls
}

// PhotoCalls returns how many photo media fetches were served.
func (g *GooglePlacesServer) PhotoCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.photoCalls
}

// LastTextQuery returns the textQuery of the most recent text search.
func (g *GooglePlacesServer) LastTextQuery() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastTextQuery
}

func (g *GooglePlacesServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/places:searchText":
		g.serveTextSearch(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/places:searchNearby":
		g.serveNearby(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/maps/api/geocode/json":
		g.serveGeocode(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/places/") && strings.HasSuffix(r.URL.Path, "/media"):
		g.servePhoto(w)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *GooglePlacesServer) serveTextSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TextQuery string `json:"textQuery"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	g.mu.Lock()
	g.textCalls++
	g.lastTextQuery = body.TextQuery
	delay := g.searchDelay
	places := g.places
	g.mu.Unlock()

	if !g.wait(r, delay) {
		return
	}
	writeJSON(w, map[string]any{"places": places})
}

func (g *GooglePlacesServer) serveNearby(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.nearbyCalls++
	delay := g.searchDelay
	places := g.places
	g.mu.Unlock()

	if !g.wait(r, delay) {
		return
	}
	writeJSON(w, map[string]any{"places": places})
}

func (g *GooglePlacesServer) serveGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("latlng") != "" {
		g.mu.Lock()
		g.reverseCalls++
		region := g.regionCode
		g.mu.Unlock()

		writeJSON(w, map[string]any{
			"status": "OK",
			"results": []map[string]any{{
				"geometry": map[string]any{"location": map[string]any{"lat": 32.08, "lng": 34.78}},
				"address_components": []map[string]any{{
					"short_name": region,
					"types":      []string{"country", "political"},
				}},
			}},
		})
		return
	}

	g.mu.Lock()
	g.geocodeCalls++
	hit, ok := g.geocodeHits[strings.ToLower(q.Get("address"))]
	g.mu.Unlock()

	if !ok {
		writeJSON(w, map[string]any{"status": "ZERO_RESULTS", "results": []any{}})
		return
	}
	writeJSON(w, map[string]any{
		"status": "OK",
		"results": []map[string]any{{
			"geometry": map[string]any{"location": map[string]any{"lat": hit[0], "lng": hit[1]}},
		}},
	})
}

func (g *GooglePlacesServer) servePhoto(w http.ResponseWriter) {
	g.mu.Lock()
	g.photoCalls++
	body := g.photoBody
	g.mu.Unlock()

	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(body)
}

// wait blocks for the scripted stall. Returns false when the caller hung up
// first, in which case the response must not be written.
func (g *GooglePlacesServer) wait(r *http.Request, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	select {
	case <-time.After(delay):
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
