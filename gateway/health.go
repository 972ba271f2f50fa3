package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/noticemux/component"
	"github.com/kbukum/noticemux/mux"
)

// serveHealth reports overall and per-component health. Unhealthy maps to 503.
func (s *Server) serveHealth(c *gin.Context) {
	var components []component.Health
	if s.deps.Health != nil {
		components = s.deps.Health(c.Request.Context())
	}
	status := component.Overall(components)

	code := http.StatusOK
	if status == component.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"service":    s.deps.Service,
		"version":    s.deps.Version,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

// serveWorkers lists the live multiplexers.
func (s *Server) serveWorkers(c *gin.Context) {
	workers := []mux.Status{}
	if s.deps.Pool != nil {
		workers = s.deps.Pool.Snapshots()
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}
