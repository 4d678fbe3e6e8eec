package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dineseek/dineseek/pkg/places"
)

const (
	photoMaxWidthDefault = 800
	photoMaxWidthCap     = 1200

	// photoCacheControl lets browsers and CDNs keep photos for a week.
	photoCacheControl = "public, max-age=604800"
)

// photoProxy handles GET /api/v1/photos/places/:placeId/photos/:photoId.
// The upstream request carries the API key; the response and its errors
// never do.
func (s *Server) photoProxy(c *gin.Context) {
	if s.photos == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody(c, "NOT_CONFIGURED", "photo proxy is not configured"))
		return
	}

	placeID := c.Param("placeId")
	photoID := c.Param("photoId")
	if placeID == "" || photoID == "" {
		c.JSON(http.StatusBadRequest, errorBody(c, "VALIDATION_ERROR", "place and photo ids are required"))
		return
	}

	maxWidth := photoMaxWidthDefault
	if v := c.Query("maxWidthPx"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxWidth = n
		}
	}
	if maxWidth < 1 {
		maxWidth = 1
	}
	if maxWidth > photoMaxWidthCap {
		maxWidth = photoMaxWidthCap
	}

	stream, err := s.photos.FetchPhoto(c.Request.Context(), placeID, photoID, maxWidth)
	if err != nil {
		status, code := http.StatusBadGateway, "UPSTREAM_ERROR"
		switch {
		case errors.Is(err, places.ErrNotFound):
			status, code = http.StatusNotFound, "NOT_FOUND"
		case errors.Is(err, places.ErrTimeout):
			status, code = http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"
		case errors.Is(err, places.ErrQuota):
			status, code = http.StatusBadGateway, "UPSTREAM_QUOTA"
		}
		slog.Warn("photo_fetch_failed", "place_id", placeID, "code", code, "error", err)
		c.JSON(status, errorBody(c, code, "photo unavailable"))
		return
	}
	defer stream.Body.Close()

	contentType := stream.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	c.Header("Cache-Control", photoCacheControl)
	c.DataFromReader(http.StatusOK, stream.ContentLength, contentType, stream.Body, nil)
}
