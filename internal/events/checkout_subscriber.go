package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	checkoutStream = "CHECKOUT_EVENTS"
	productStream  = "PRODUCT_EVENTS"

	// CheckoutCompleted is emitted by the checkout flow once an order is placed
	CheckoutCompleted = "checkout.completed"
)

// TrackingCanceller clears abandoned cart tracking after a purchase
type TrackingCanceller interface {
	CancelAbandonedTracking(ctx context.Context, cartID int64, source string)
	CancelByOrderID(ctx context.Context, orderID int64, source string)
	CancelByToken(ctx context.Context, token, source string)
}

// CatalogInvalidator drops cached catalog entries
type CatalogInvalidator interface {
	InvalidateProduct(ctx context.Context, productID int64)
}

// CheckoutEvent is the payload of checkout.completed
type CheckoutEvent struct {
	EventType       string    `json:"eventType"`
	Timestamp       time.Time `json:"timestamp"`
	OrderID         int64     `json:"orderId"`
	AbandonedCartID int64     `json:"abandonedCartId,omitempty"`
	RecoveryToken   string    `json:"recoveryToken,omitempty"`
}

// ProductEvent represents a catalog change
type ProductEvent struct {
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	ProductID string    `json:"productId"`
}

// Subscriber consumes checkout completions to retire abandoned carts and
// product changes to keep the catalog cache fresh.
type Subscriber struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	canceller TrackingCanceller
	catalog   CatalogInvalidator
	hostname  string
	logger    *logrus.Entry
}

// NewSubscriber connects to NATS. catalog may be nil.
func NewSubscriber(natsURL string, canceller TrackingCanceller, catalog CatalogInvalidator, logger *logrus.Logger) (*Subscriber, error) {
	entry := logger.WithField("component", "checkout-subscriber")

	nc, err := nats.Connect(natsURL,
		nats.Name("cart-recovery-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.Infof("Reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			entry.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			entry.WithError(err).Error("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	hostname, _ := os.Hostname()

	return &Subscriber{
		nc:        nc,
		js:        js,
		canceller: canceller,
		catalog:   catalog,
		hostname:  hostname,
		logger:    entry,
	}, nil
}

// Start begins consuming in background goroutines until ctx is done
func (s *Subscriber) Start(ctx context.Context) error {
	s.ensureStreams(ctx)

	// One durable shared by all replicas: each checkout is handled once
	checkout, err := s.js.CreateOrUpdateConsumer(ctx, checkoutStream, jetstream.ConsumerConfig{
		Durable:       "cart-recovery-checkout",
		FilterSubject: CheckoutCompleted,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create checkout consumer: %w", err)
	}
	go s.consume(ctx, checkout, s.handleCheckoutMessage)

	if s.catalog != nil {
		// Per-replica durable: every in-memory cache must see every change
		products, err := s.js.CreateOrUpdateConsumer(ctx, productStream, jetstream.ConsumerConfig{
			Durable:           fmt.Sprintf("cart-recovery-catalog-%s", s.hostname),
			FilterSubject:     "product.>",
			AckPolicy:         jetstream.AckExplicitPolicy,
			AckWait:           30 * time.Second,
			MaxDeliver:        3,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: time.Hour,
		})
		if err != nil {
			s.logger.WithError(err).Warn("Failed to create product consumer, catalog cache relies on TTL only")
		} else {
			go s.consume(ctx, products, s.handleProductMessage)
		}
	}

	s.logger.Info("Checkout subscriber started")
	return nil
}

// Close drains the NATS connection
func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Drain()
	}
}

func (s *Subscriber) ensureStreams(ctx context.Context) {
	for name, subject := range map[string]string{
		checkoutStream: "checkout.>",
		productStream:  "product.>",
	} {
		_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{subject},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   jetstream.FileStorage,
			Replicas:  1,
		})
		if err != nil {
			s.logger.WithError(err).WithField("stream", name).Warn("Could not ensure stream")
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, consumer jetstream.Consumer, handle func(context.Context, []byte) error) {
	msgs, err := consumer.Messages()
	if err != nil {
		s.logger.WithError(err).Error("Failed to get message iterator")
		return
	}

	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	for {
		msg, err := msgs.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("Error getting next message")
			time.Sleep(time.Second)
			continue
		}

		if err := handle(ctx, msg.Data()); err != nil {
			s.logger.WithError(err).WithField("subject", msg.Subject()).Error("Failed to handle message")
			msg.Nak()
			continue
		}
		msg.Ack()
	}
}

// handleCheckoutMessage retires the completed order and the snapshot the
// shopper's recovery link pointed at. Malformed payloads are acked and dropped.
func (s *Subscriber) handleCheckoutMessage(ctx context.Context, data []byte) error {
	var event CheckoutEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed checkout event")
		return nil
	}

	s.canceller.CancelAbandonedTracking(ctx, event.AbandonedCartID, "checkout_event")
	s.canceller.CancelByOrderID(ctx, event.OrderID, "checkout_event")
	s.canceller.CancelByToken(ctx, event.RecoveryToken, "checkout_event")
	return nil
}

func (s *Subscriber) handleProductMessage(ctx context.Context, data []byte) error {
	var event ProductEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil
	}
	productID, err := strconv.ParseInt(event.ProductID, 10, 64)
	if err != nil {
		// Not a storefront catalog id
		return nil
	}
	s.catalog.InvalidateProduct(ctx, productID)
	return nil
}
