package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dineseek/dineseek/pkg/models"
)

// Gin context keys.
const (
	ctxIdentity = "identity"
	ctxTraceID  = "traceId"
)

// traceID attaches a trace id to every request. An inbound X-Trace-Id is
// honored so upstream proxies can correlate; otherwise a fresh uuid is
// minted. The id is echoed in the response header and in JSON envelopes.
func (s *Server) traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Trace-Id")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxTraceID, id)
		c.Header("X-Trace-Id", id)
		c.Next()
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// cors reflects allowed origins from FRONTEND_ORIGINS. An empty allowlist
// reflects any origin; the config validator forbids that in prod-like
// environments.
func (s *Server) cors() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.FrontendOrigins))
	for _, origin := range s.cfg.FrontendOrigins {
		allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (len(allowed) == 0 || allowed[strings.ToLower(origin)]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Trace-Id")
			h.Set("Access-Control-Expose-Headers", "X-Trace-Id, Retry-After")
			h.Set("Access-Control-Max-Age", "600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// recovery converts handler panics into the uniform 500 envelope. Stack
// traces stay in the log.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler_panicked",
					"path", c.FullPath(),
					"method", c.Request.Method,
					"panic", rec)
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					errorBody(c, "INTERNAL_ERROR", "internal server error"))
			}
		}()
		c.Next()
	}
}

// bodyLimit caps request bodies on JSON endpoints. Oversized bodies surface
// as *http.MaxBytesError from ShouldBindJSON.
func (s *Server) bodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Limits.MaxBodyBytes)
		c.Next()
	}
}

// requireAuth verifies the Bearer token and stores the session identity in
// the gin context. Every failure is the same opaque 401.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorBody(c, "NOT_AUTHORIZED", "missing bearer token"))
			return
		}

		identity, err := s.verifier.VerifyToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorBody(c, "NOT_AUTHORIZED", "invalid or expired token"))
			return
		}

		c.Set(ctxIdentity, identity)
		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// identityFrom returns the verified identity set by requireAuth.
func identityFrom(c *gin.Context) models.SessionIdentity {
	if v, ok := c.Get(ctxIdentity); ok {
		if identity, ok := v.(models.SessionIdentity); ok {
			return identity
		}
	}
	return models.SessionIdentity{}
}

// traceFrom returns the request's trace id.
func traceFrom(c *gin.Context) string {
	return c.GetString(ctxTraceID)
}
