package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/models"
	"cart-recovery-service/internal/repository"
)

// RecoveredCart is what the storefront needs to rebuild the shopper's cart
type RecoveredCart struct {
	OrderID     int64              `json:"orderId"`
	BillingData models.BillingData `json:"billingData"`
	Items       []ResolvedItem     `json:"items"`
}

// RecoveryService redeems recovery tokens. It never writes.
type RecoveryService struct {
	repo     repository.AbandonedCartRepository
	resolver *cartResolver
	lookback time.Duration
	clock    Clock
	logger   *logrus.Entry
}

// NewRecoveryService creates a new recovery service. Tokens are only
// honoured for carts created within lookback.
func NewRecoveryService(repo repository.AbandonedCartRepository, catalog Catalog, lookback time.Duration, clock Clock, logger *logrus.Logger) *RecoveryService {
	entry := logger.WithField("component", "cart-recovery")
	return &RecoveryService{
		repo:     repo,
		resolver: &cartResolver{catalog: catalog, logger: entry},
		lookback: lookback,
		clock:    clock,
		logger:   entry,
	}
}

// RecoverCart resolves a token to the open snapshot with live prices.
// Every lookup miss is reported as ErrCartNotFound.
func (s *RecoveryService) RecoverCart(ctx context.Context, token string) (*RecoveredCart, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}

	cart, err := s.repo.FindOpenByToken(ctx, token, s.clock.now().Add(-s.lookback))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to look up recovery token: %w", err)
	}

	items := s.resolver.resolve(ctx, cart.LineItems)
	if dropped := len(cart.LineItems) - len(items); dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"cartId":  cart.ID,
			"dropped": dropped,
		}).Info("Recovered cart is missing unavailable products")
	}

	return &RecoveredCart{
		OrderID:     cart.ID,
		BillingData: cart.Billing,
		Items:       items,
	}, nil
}
