package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dineseek/dineseek/pkg/version"
)

// health handles GET /health. Liveness only; readiness of Redis and the
// upstream providers shows up in pipeline behavior and metrics instead.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"env":              s.cfg.Env,
		"contractsVersion": version.ContractsVersion,
	})
}
