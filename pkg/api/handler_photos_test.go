package api

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/places"
)

func jpegStream(payload string) func() *places.PhotoStream {
	return func() *places.PhotoStream {
		return &places.PhotoStream{
			Body:          io.NopCloser(strings.NewReader(payload)),
			ContentType:   "image/jpeg",
			ContentLength: int64(len(payload)),
		}
	}
}

func TestPhotoProxy_StreamsUpstreamBody(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.photos.stream = jpegStream("jpeg-bytes")

	rec := f.doJSON(t, http.MethodGet, "/api/v1/photos/places/place-1/photos/photo-1", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=604800", rec.Header().Get("Cache-Control"))

	assert.Equal(t, "place-1", f.photos.placeID)
	assert.Equal(t, "photo-1", f.photos.photoID)
	assert.Equal(t, []int{photoMaxWidthDefault}, f.photos.requestedWidths())
}

func TestPhotoProxy_NoAuthRequired(t *testing.T) {
	// Image tags cannot attach Authorization headers, so the route is public.
	f := newAPIFixture(t, nil)
	f.photos.stream = jpegStream("x")

	rec := f.doJSON(t, http.MethodGet, "/api/v1/photos/places/p/photos/ph", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPhotoProxy_MaxWidthClamped(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "default when absent", query: "", want: 800},
		{name: "explicit width passes through", query: "?maxWidthPx=400", want: 400},
		{name: "oversize clamped to cap", query: "?maxWidthPx=5000", want: 1200},
		{name: "zero clamped to one", query: "?maxWidthPx=0", want: 1},
		{name: "negative clamped to one", query: "?maxWidthPx=-3", want: 1},
		{name: "garbage falls back to default", query: "?maxWidthPx=abc", want: 800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, nil)
			f.photos.stream = jpegStream("x")

			rec := f.doJSON(t, http.MethodGet, "/api/v1/photos/places/p/photos/ph"+tt.query, nil, nil)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, []int{tt.want}, f.photos.requestedWidths())
		})
	}
}

func TestPhotoProxy_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not found", err: places.ErrNotFound, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "timeout", err: places.ErrTimeout, wantStatus: http.StatusGatewayTimeout, wantCode: "UPSTREAM_TIMEOUT"},
		{name: "quota", err: places.ErrQuota, wantStatus: http.StatusBadGateway, wantCode: "UPSTREAM_QUOTA"},
		{name: "anything else", err: places.ErrProvider, wantStatus: http.StatusBadGateway, wantCode: "UPSTREAM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, nil)
			f.photos.err = tt.err

			rec := f.doJSON(t, http.MethodGet, "/api/v1/photos/places/p/photos/ph", nil, nil)

			require.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantCode, body["code"])
			// Upstream error text stays out of the client response.
			assert.Equal(t, "photo unavailable", body["message"])
		})
	}
}

func TestPhotoProxy_NotConfigured(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.server.photos = nil

	rec := f.doJSON(t, http.MethodGet, "/api/v1/photos/places/p/photos/ph", nil, nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NOT_CONFIGURED", body["code"])
}

func TestPhotoProxy_RateLimited(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config) {
		cfg.Limits.PhotosPerMinute = 1
	})
	f.photos.stream = jpegStream("x")

	rec := f.doJSON(t, http.MethodGet, "/api/v1/photos/places/p/photos/ph", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.doJSON(t, http.MethodGet, "/api/v1/photos/places/p/photos/ph", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, []int{photoMaxWidthDefault}, f.photos.requestedWidths(), "second fetch never reaches upstream")
}
