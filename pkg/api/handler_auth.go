package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dineseek/dineseek/pkg/models"
)

// tokenRequest is the optional body for POST /api/v1/auth/token.
type tokenRequest struct {
	UserID string `json:"userId"`
}

// mintToken handles POST /api/v1/auth/token. Every call starts a fresh
// session; the server mints the sessionId and the client can never choose
// one. The optional userId rides along for logged-in users.
func (s *Server) mintToken(c *gin.Context) {
	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(c, "VALIDATION_ERROR", "malformed body"))
			return
		}
	}

	identity := models.SessionIdentity{SessionID: uuid.NewString(), UserID: req.UserID}
	token, err := s.verifier.MintToken(identity)
	if err != nil {
		slog.Error("token_mint_failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody(c, "INTERNAL_ERROR", "failed to mint token"))
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		SessionID: identity.SessionID,
		TraceID:   traceFrom(c),
	})
}

// mintTicket handles POST /api/v1/ws-ticket. The ticket is one-time and
// short-lived; the client passes it in the /ws query string.
func (s *Server) mintTicket(c *gin.Context) {
	identity := identityFrom(c)

	ticket, err := s.tickets.Create(c.Request.Context(), identity)
	if err != nil {
		slog.Error("ticket_mint_failed", "session_id", identity.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody(c, "INTERNAL_ERROR", "failed to mint ticket"))
		return
	}

	c.JSON(http.StatusOK, ticketResponse{
		Ticket:           ticket,
		ExpiresInSeconds: int(s.cfg.WS.TicketTTL.Seconds()),
	})
}
