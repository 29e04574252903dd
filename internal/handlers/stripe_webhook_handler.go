package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBodyBytes = int64(65536)

// StripeWebhookHandler retires abandoned carts when Stripe reports a paid checkout
type StripeWebhookHandler struct {
	writer SnapshotWriter
	secret string
	logger *logrus.Entry
}

// NewStripeWebhookHandler creates a new Stripe webhook handler
func NewStripeWebhookHandler(writer SnapshotWriter, secret string, logger *logrus.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		writer: writer,
		secret: secret,
		logger: logger.WithField("component", "stripe-webhook"),
	}
}

// Handle verifies and processes a Stripe event
// POST /webhooks/stripe
func (h *StripeWebhookHandler) Handle(c *gin.Context) {
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" || h.secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe-Signature header is required"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Stripe webhook signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	var metadata map[string]string
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err == nil {
			metadata = sess.Metadata
		}
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err == nil {
			metadata = pi.Metadata
		}
	}

	if metadata != nil {
		ctx := c.Request.Context()
		source := "stripe:" + string(event.Type)

		if id, err := strconv.ParseInt(metadata["abandoned_cart_id"], 10, 64); err == nil && id > 0 {
			h.writer.CancelAbandonedTracking(ctx, id, source)
		}
		if id, err := strconv.ParseInt(metadata["order_id"], 10, 64); err == nil && id > 0 {
			h.writer.CancelByOrderID(ctx, id, source)
		}
		h.writer.CancelByToken(ctx, metadata["recovery_token"], source)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
