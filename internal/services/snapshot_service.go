package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/models"
	"cart-recovery-service/internal/repository"
)

// RecordCartInput is the shopper data captured at email blur or checkout step one
type RecordCartInput struct {
	Email           string            `json:"email"`
	FirstName       string            `json:"firstName,omitempty"`
	LastName        string            `json:"lastName,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Items           []models.LineItem `json:"items"`
	AbandonedCartID *int64            `json:"abandonedCartId,omitempty"`
	OrderID         *int64            `json:"orderId,omitempty"`
}

// RecordCartResult is returned to the storefront. Token is only set on create.
type RecordCartResult struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Token   string `json:"token,omitempty"`
}

// SnapshotConfig configures the snapshot writer
type SnapshotConfig struct {
	// RearmOnUpdate clears the recovery email guard whenever an existing
	// snapshot is updated, making an already emailed shopper eligible again.
	RearmOnUpdate bool
	// TokenLookback bounds the token search of CancelByToken
	TokenLookback time.Duration
	Clock         Clock
}

// SnapshotService writes cart snapshots and clears tracking once a purchase completes
type SnapshotService struct {
	repo     repository.AbandonedCartRepository
	resolver *cartResolver
	events   EventPublisher
	cfg      SnapshotConfig
	logger   *logrus.Entry
}

// NewSnapshotService creates a new snapshot service. catalog and events may be nil.
func NewSnapshotService(
	repo repository.AbandonedCartRepository,
	catalog Catalog,
	events EventPublisher,
	cfg SnapshotConfig,
	logger *logrus.Logger,
) *SnapshotService {
	entry := logger.WithField("component", "snapshot-writer")
	s := &SnapshotService{
		repo:   repo,
		events: events,
		cfg:    cfg,
		logger: entry,
	}
	if catalog != nil {
		s.resolver = &cartResolver{catalog: catalog, logger: entry}
	}
	return s
}

// Validate checks the required fields of a snapshot write
func (in *RecordCartInput) Validate() error {
	if strings.TrimSpace(in.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrValidation)
	}
	for i, item := range in.Items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: items[%d].productId is required", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
	}
	return nil
}

func (in *RecordCartInput) billing() *models.BillingData {
	b := &models.BillingData{
		Email:     strings.TrimSpace(in.Email),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Phone:     strings.TrimSpace(in.Phone),
	}
	if b.Email == "" && b.FirstName == "" && b.LastName == "" && b.Phone == "" {
		return nil
	}
	return b
}

// RecordAbandonedCart creates a new snapshot or refreshes an existing one.
// Only validation errors are returned; store failures are logged and reported
// as an unsuccessful result so checkout is never blocked.
func (s *SnapshotService) RecordAbandonedCart(ctx context.Context, in RecordCartInput) (*RecordCartResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if in.AbandonedCartID != nil && *in.AbandonedCartID > 0 {
		return s.updateSnapshot(ctx, *in.AbandonedCartID, in), nil
	}
	return s.createSnapshot(ctx, in), nil
}

func (s *SnapshotService) createSnapshot(ctx context.Context, in RecordCartInput) *RecordCartResult {
	now := s.cfg.Clock.now()
	cart := &models.AbandonedCart{
		RecoveryToken:     uuid.New().String(),
		IsAbandoned:       true,
		AbandonedAt:       now,
		RecoveryEmailSent: false,
		Billing:           *in.billing(),
		LineItems:         in.Items,
		Total:             s.estimateTotal(ctx, in.Items),
	}
	if in.OrderID != nil && *in.OrderID > 0 {
		cart.OrderID = in.OrderID
	}

	if err := s.repo.Create(ctx, cart); err != nil {
		s.logger.WithError(err).Error("Failed to create abandoned cart snapshot")
		return &RecordCartResult{Success: false}
	}

	s.logger.WithFields(logrus.Fields{
		"cartId":    cart.ID,
		"itemCount": cart.ItemCount(),
	}).Info("Abandoned cart snapshot created")

	if s.events != nil {
		_ = s.events.PublishSnapshotRecorded(ctx, cart, true)
	}

	return &RecordCartResult{Success: true, ID: cart.ID, Token: cart.RecoveryToken}
}

func (s *SnapshotService) updateSnapshot(ctx context.Context, id int64, in RecordCartInput) *RecordCartResult {
	update := repository.SnapshotUpdate{
		Billing:       in.billing(),
		AbandonedAt:   s.cfg.Clock.now(),
		RearmRecovery: s.cfg.RearmOnUpdate,
		LineItems:     in.Items,
		Total:         s.estimateTotal(ctx, in.Items),
	}
	if in.OrderID != nil && *in.OrderID > 0 {
		update.OrderID = in.OrderID
	}

	if err := s.repo.UpdateSnapshot(ctx, id, update); err != nil {
		entry := s.logger.WithError(err).WithField("cartId", id)
		if errors.Is(err, repository.ErrNotFound) {
			entry.Warn("Abandoned cart snapshot to update does not exist")
		} else {
			entry.Error("Failed to update abandoned cart snapshot")
		}
		return &RecordCartResult{Success: false}
	}

	s.logger.WithFields(logrus.Fields{
		"cartId":  id,
		"rearmed": update.RearmRecovery,
	}).Debug("Abandoned cart snapshot refreshed")

	if s.events != nil {
		_ = s.events.PublishSnapshotRecorded(ctx, &models.AbandonedCart{
			ID:          id,
			IsAbandoned: true,
			AbandonedAt: update.AbandonedAt,
		}, false)
	}

	return &RecordCartResult{Success: true, ID: id}
}

// estimateTotal prices the cart for reporting. Failures yield zero.
func (s *SnapshotService) estimateTotal(ctx context.Context, items []models.LineItem) float64 {
	if s.resolver == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return total(s.resolver.resolve(ctx, items))
}

// CancelAbandonedTracking clears the abandoned tag on a snapshot addressed by
// its own id. Failures are logged and never surfaced.
func (s *SnapshotService) CancelAbandonedTracking(ctx context.Context, cartID int64, source string) {
	if cartID <= 0 {
		return
	}

	if err := s.repo.ClearAbandoned(ctx, cartID, s.cfg.Clock.now()); err != nil {
		entry := s.logger.WithError(err).WithFields(logrus.Fields{"cartId": cartID, "source": source})
		if errors.Is(err, repository.ErrNotFound) {
			entry.Debug("No open abandoned cart to cancel")
		} else {
			entry.Error("Failed to cancel abandoned cart tracking")
		}
		return
	}

	s.logger.WithFields(logrus.Fields{"cartId": cartID, "source": source}).Info("Abandoned cart tracking cancelled")
	if s.events != nil {
		_ = s.events.PublishCartRecovered(ctx, cartID, source)
	}
}

// CancelByOrderID clears the snapshot linked to the commerce order of a
// completed purchase. Order ids and snapshot ids are separate key spaces.
func (s *SnapshotService) CancelByOrderID(ctx context.Context, orderID int64, source string) {
	if orderID <= 0 {
		return
	}

	cart, err := s.repo.FindOpenByOrderID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithFields(logrus.Fields{"orderId": orderID, "source": source}).
				Error("Failed to look up abandoned cart by order")
		}
		return
	}

	s.CancelAbandonedTracking(ctx, cart.ID, source)
}

// CancelByToken clears the snapshot a recovery link pointed at, so a purchase
// made through a new checkout session still retires the original record.
func (s *SnapshotService) CancelByToken(ctx context.Context, token, source string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}

	cart, err := s.repo.FindOpenByToken(ctx, token, s.cfg.Clock.now().Add(-s.cfg.TokenLookback))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithField("source", source).Error("Failed to look up abandoned cart by token")
		}
		return
	}

	s.CancelAbandonedTracking(ctx, cart.ID, source)
}
