package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cart-recovery-service/internal/services"
)

// SnapshotWriter records and retires cart snapshots
type SnapshotWriter interface {
	RecordAbandonedCart(ctx context.Context, in services.RecordCartInput) (*services.RecordCartResult, error)
	CancelAbandonedTracking(ctx context.Context, cartID int64, source string)
	CancelByOrderID(ctx context.Context, orderID int64, source string)
	CancelByToken(ctx context.Context, token, source string)
}

// CartRecoverer redeems recovery tokens
type CartRecoverer interface {
	RecoverCart(ctx context.Context, token string) (*services.RecoveredCart, error)
}

// AbandonedCartHandler handles the storefront-facing abandoned cart endpoints
type AbandonedCartHandler struct {
	writer    SnapshotWriter
	recoverer CartRecoverer
}

// NewAbandonedCartHandler creates a new abandoned cart handler
func NewAbandonedCartHandler(writer SnapshotWriter, recoverer CartRecoverer) *AbandonedCartHandler {
	return &AbandonedCartHandler{writer: writer, recoverer: recoverer}
}

// Record captures or refreshes a cart snapshot
// POST /abandoned-cart
func (h *AbandonedCartHandler) Record(c *gin.Context) {
	var req services.RecordCartInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	result, err := h.writer.RecordAbandonedCart(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": ")})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Cancel stops tracking the cart used for a completed purchase. id and orderId
// are commerce order ids; only abandonedCartId addresses a snapshot directly.
// DELETE /abandoned-cart?id=<orderId>[&abandonedCartId=<id>][&token=<recoveryToken>]
func (h *AbandonedCartHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()

	orderParam := c.Query("id")
	if orderParam == "" {
		orderParam = c.Query("orderId")
	}
	if id, err := strconv.ParseInt(orderParam, 10, 64); err == nil && id > 0 {
		h.writer.CancelByOrderID(ctx, id, "checkout")
	}
	if id, err := strconv.ParseInt(c.Query("abandonedCartId"), 10, 64); err == nil && id > 0 {
		h.writer.CancelAbandonedTracking(ctx, id, "checkout")
	}
	if token := c.Query("token"); token != "" {
		h.writer.CancelByToken(ctx, token, "checkout")
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Recover resolves a recovery token to the cart contents
// GET /abandoned-cart/recover?token=<token>
func (h *AbandonedCartHandler) Recover(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	cart, err := h.recoverer.RecoverCart(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCartNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "This link has expired or is no longer valid"})
		case errors.Is(err, services.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		default:
			c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recover cart"})
		}
		return
	}

	c.JSON(http.StatusOK, cart)
}
