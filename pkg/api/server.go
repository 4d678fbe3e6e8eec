// Package api is the HTTP surface: token minting, search accept and poll,
// the photo proxy, the WebSocket handshake and the operational endpoints.
// Handlers stay thin; ownership and lifecycle rules live in pkg/search and
// pkg/ws.
package api

import (
	"context"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/dineseek/dineseek/pkg/auth"
	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/places"
	"github.com/dineseek/dineseek/pkg/search"
)

// SearchRunner is the slice of the search runner the handlers call.
type SearchRunner interface {
	Accept(ctx context.Context, req models.SearchRequest, owner models.SessionIdentity, traceID string) (search.Accepted, error)
	Search(ctx context.Context, req models.SearchRequest, owner models.SessionIdentity, traceID string) (models.SearchResponse, error)
	Result(ctx context.Context, requestID string, caller models.SessionIdentity) (*models.Job, error)
}

// ConnectionHandler takes over an authenticated WebSocket. Satisfied by
// ws.Manager.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, sock *websocket.Conn, identity models.SessionIdentity)
}

// PhotoFetcher opens upstream photo streams for the proxy endpoint.
// Satisfied by places.GoogleClient.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, placeID, photoID string, maxWidthPx int) (*places.PhotoStream, error)
}

// Server wires handlers to their dependencies and owns the router.
type Server struct {
	cfg      *config.Config
	verifier *auth.Verifier
	tickets  auth.TicketStore
	runner   SearchRunner
	ws       ConnectionHandler
	photos   PhotoFetcher

	searchLimiter *ipLimiter
	photoLimiter  *ipLimiter
}

// NewServer builds the API server. photos may be nil when the Google key is
// absent; the proxy endpoint then answers 503.
func NewServer(cfg *config.Config, verifier *auth.Verifier, tickets auth.TicketStore, runner SearchRunner, ws ConnectionHandler, photos PhotoFetcher) *Server {
	return &Server{
		cfg:           cfg,
		verifier:      verifier,
		tickets:       tickets,
		runner:        runner,
		ws:            ws,
		photos:        photos,
		searchLimiter: newIPLimiter(cfg.Limits.SearchPerMinute),
		photoLimiter:  newIPLimiter(cfg.Limits.PhotosPerMinute),
	}
}

// Router assembles the gin engine with the full route table.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProdLike() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(s.recovery(), s.traceID(), securityHeaders(), s.cors())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", s.handleWS)

	v1 := r.Group("/api/v1")
	v1.POST("/auth/token", s.bodyLimit(), s.mintToken)
	v1.GET("/photos/places/:placeId/photos/:photoId", s.rateLimit(s.photoLimiter), s.photoProxy)

	authed := v1.Group("", s.requireAuth())
	authed.POST("/ws-ticket", s.mintTicket)
	authed.POST("/search", s.bodyLimit(), s.rateLimit(s.searchLimiter), s.createSearch)
	authed.GET("/search/:requestId/result", s.searchResult)

	return r
}
