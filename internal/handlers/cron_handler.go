package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cart-recovery-service/internal/services"
)

// SweepRunner runs one recovery sweep
type SweepRunner interface {
	Run(ctx context.Context) (*services.SweepResult, error)
}

// CronHandler exposes scheduler-triggered jobs
type CronHandler struct {
	sweeper SweepRunner
}

// NewCronHandler creates a new cron handler
func NewCronHandler(sweeper SweepRunner) *CronHandler {
	return &CronHandler{sweeper: sweeper}
}

// AbandonedCartSweep runs the recovery email sweep
// GET /cron/abandoned-cart
func (h *CronHandler) AbandonedCartSweep(c *gin.Context) {
	result, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrSweepInProgress) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Sweep already in progress"})
			return
		}
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Sweep failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
