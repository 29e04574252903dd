// Package events publishes cart recovery lifecycle events and consumes the
// checkout and catalog events that drive tracking cancellation and cache
// invalidation.
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/models"
)

// Cart recovery event types
const (
	SnapshotRecorded  = "cart_recovery.snapshot_recorded"
	RecoveryEmailSent = "cart_recovery.email_sent"
	CartRecovered     = "cart_recovery.recovered"

	CartRecoveryStream = "CART_RECOVERY_EVENTS"
)

// CartRecoveryEvent represents a cart recovery lifecycle event. The recovery
// token is never included.
type CartRecoveryEvent struct {
	events.BaseEvent
	CartID      int64      `json:"cartId"`
	Created     bool       `json:"created,omitempty"`
	Email       string     `json:"email,omitempty"`
	ItemCount   int        `json:"itemCount,omitempty"`
	Total       float64    `json:"total,omitempty"`
	AbandonedAt *time.Time `json:"abandonedAt,omitempty"`
	Source      string     `json:"source,omitempty"`
}

func (e *CartRecoveryEvent) GetSubject() string {
	return e.EventType
}

func (e *CartRecoveryEvent) GetStream() string {
	return CartRecoveryStream
}

// Publisher wraps the go-shared events publisher for cart recovery events
type Publisher struct {
	publisher *events.Publisher
	logger    *logrus.Entry
}

// NewPublisher connects to NATS and ensures the cart recovery stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	config := events.DefaultPublisherConfig(natsURL)
	config.Name = "cart-recovery-service"

	publisher, err := events.NewPublisher(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create events publisher: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.EnsureStream(ctx, CartRecoveryStream, []string{"cart_recovery.>"}); err != nil {
		logger.WithError(err).Warn("Failed to ensure cart recovery stream (may already exist)")
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.WithField("component", "cart-recovery-events"),
	}, nil
}

// IsConnected reports whether the NATS connection is up
func (p *Publisher) IsConnected() bool {
	return p.publisher != nil && p.publisher.IsConnected()
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.publisher != nil {
		p.publisher.Close()
	}
}

// PublishSnapshotRecorded publishes a cart_recovery.snapshot_recorded event
func (p *Publisher) PublishSnapshotRecorded(ctx context.Context, cart *models.AbandonedCart, created bool) error {
	event := p.newEvent(SnapshotRecorded, cart.ID)
	event.Created = created
	event.Email = cart.Billing.Email
	event.ItemCount = cart.ItemCount()
	event.Total = cart.Total
	abandonedAt := cart.AbandonedAt
	event.AbandonedAt = &abandonedAt
	return p.publish(ctx, event)
}

// PublishRecoveryEmailSent publishes a cart_recovery.email_sent event
func (p *Publisher) PublishRecoveryEmailSent(ctx context.Context, cart *models.AbandonedCart) error {
	event := p.newEvent(RecoveryEmailSent, cart.ID)
	event.Email = cart.Billing.Email
	event.ItemCount = cart.ItemCount()
	event.Total = cart.Total
	return p.publish(ctx, event)
}

// PublishCartRecovered publishes a cart_recovery.recovered event
func (p *Publisher) PublishCartRecovered(ctx context.Context, cartID int64, source string) error {
	event := p.newEvent(CartRecovered, cartID)
	event.Source = source
	return p.publish(ctx, event)
}

func (p *Publisher) newEvent(eventType string, cartID int64) *CartRecoveryEvent {
	return &CartRecoveryEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			SourceID:  strconv.FormatInt(cartID, 10),
			Timestamp: time.Now().UTC(),
		},
		CartID: cartID,
	}
}

// publish sends the event asynchronously; failures are logged only
func (p *Publisher) publish(_ context.Context, event *CartRecoveryEvent) error {
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entry := p.logger.WithFields(logrus.Fields{
			"eventType": event.EventType,
			"cartId":    event.CartID,
		})
		if err := p.publisher.Publish(pubCtx, event); err != nil {
			entry.WithError(err).Error("Failed to publish cart recovery event")
			return
		}
		entry.Debug("Cart recovery event published")
	}()

	return nil
}
