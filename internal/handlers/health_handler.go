package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DependencyCheck probes one downstream dependency
type DependencyCheck func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	critical map[string]DependencyCheck
	optional map[string]DependencyCheck
}

// NewHealthHandler creates a new health handler. A failing critical check
// makes the service unhealthy; optional checks only degrade readiness output.
func NewHealthHandler(critical, optional map[string]DependencyCheck) *HealthHandler {
	return &HealthHandler{critical: critical, optional: optional}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	for name, check := range h.critical {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  name + " check failed",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cart-recovery-service",
	})
}

// ReadinessCheck handles GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, check := range h.critical {
		if err := check(ctx); err != nil {
			checks[name] = "down"
			ready = false
		} else {
			checks[name] = "up"
		}
	}
	for name, check := range h.optional {
		if err := check(ctx); err != nil {
			checks[name] = "degraded"
		} else {
			checks[name] = "up"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}
