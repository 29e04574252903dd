package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cart-recovery-service/internal/services"
)

// StatsProvider computes the abandoned cart rollup
type StatsProvider interface {
	GetAbandonedCartStats(ctx context.Context) (*services.CartStats, error)
	Location() *time.Location
}

// StatsHandler serves the admin dashboard endpoints
type StatsHandler struct {
	stats StatsProvider
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GetStats returns recovery statistics
// GET /admin/abandoned-cart-stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	stats, err := h.stats.GetAbandonedCartStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load abandoned cart stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Export downloads the statistics as an Excel workbook
// GET /admin/abandoned-cart-stats/export
func (h *StatsHandler) Export(c *gin.Context) {
	stats, err := h.stats.GetAbandonedCartStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load abandoned cart stats"})
		return
	}

	f, err := services.BuildStatsWorkbook(stats, h.stats.Location())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build export"})
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("abandoned_carts_%s.xlsx", stats.GeneratedAt.In(h.stats.Location()).Format("2006-01-02"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)

	if err := f.Write(c.Writer); err != nil {
		c.Error(err)
	}
}
