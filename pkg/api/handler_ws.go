package api

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dineseek/dineseek/pkg/auth"
	"github.com/dineseek/dineseek/pkg/models"
)

// Close reasons sent with 1008/1011 on handshake rejection.
const (
	closeNotAuthorized = "NOT_AUTHORIZED"
	closeOriginBlocked = "ORIGIN_BLOCKED"
	closeInternalError = "INTERNAL_ERROR"
)

// handleWS handles GET /ws: upgrade, origin check, one-time ticket consume,
// then hand the socket to the manager. Rejections happen after the upgrade
// so the client receives a close frame with a reason instead of an opaque
// failed handshake.
func (s *Server) handleWS(c *gin.Context) {
	sock, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// The origin verdict is delivered as a close frame below.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	if !s.originAllowed(c.GetHeader("Origin")) {
		slog.Warn("WebSocket origin rejected", "origin", c.GetHeader("Origin"))
		_ = sock.Close(websocket.StatusPolicyViolation, closeOriginBlocked)
		return
	}

	identity, ok := s.wsIdentity(c, sock)
	if !ok {
		return
	}

	s.ws.HandleConnection(c.Request.Context(), sock, identity)
}

// wsIdentity resolves the connection identity from the handshake ticket.
// Without a ticket the connection is rejected unless WS auth is disabled,
// in which case an anonymous session is minted for development use.
func (s *Server) wsIdentity(c *gin.Context, sock *websocket.Conn) (models.SessionIdentity, bool) {
	ticket := c.Query("ticket")
	if ticket == "" {
		if !s.cfg.WSRequireAuth {
			return models.SessionIdentity{SessionID: uuid.NewString()}, true
		}
		_ = sock.Close(websocket.StatusPolicyViolation, closeNotAuthorized)
		return models.SessionIdentity{}, false
	}

	identity, err := s.tickets.Consume(c.Request.Context(), ticket)
	switch {
	case errors.Is(err, auth.ErrTicketInvalid):
		_ = sock.Close(websocket.StatusPolicyViolation, closeNotAuthorized)
		return models.SessionIdentity{}, false
	case err != nil:
		slog.Error("ticket_consume_failed", "error", err)
		_ = sock.Close(websocket.StatusInternalError, closeInternalError)
		return models.SessionIdentity{}, false
	}
	return identity, true
}

// originAllowed checks the Origin header against FRONTEND_ORIGINS. Non-
// browser clients send no Origin and pass; an empty allowlist passes
// everything and is forbidden in prod-like environments by the validator.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.cfg.FrontendOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.FrontendOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}
