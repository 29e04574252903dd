package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cart-recovery-service/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no tracked cart matches the lookup
var ErrNotFound = errors.New("abandoned cart not found")

// SnapshotUpdate describes the changes a repeated snapshot write applies to
// an existing cart. The recovery token is never part of an update.
type SnapshotUpdate struct {
	Billing       *models.BillingData // nil leaves billing untouched
	AbandonedAt   time.Time
	RearmRecovery bool              // reset the recovery-email guard
	LineItems     []models.LineItem // empty leaves the stored lines untouched
	Total         float64
	OrderID       *int64 // links the snapshot to a commerce order
}

// AbandonedCartRepository persists abandoned cart snapshots
type AbandonedCartRepository interface {
	Create(ctx context.Context, cart *models.AbandonedCart) error
	GetByID(ctx context.Context, id int64) (*models.AbandonedCart, error)
	UpdateSnapshot(ctx context.Context, id int64, update SnapshotUpdate) error
	FindOpenByToken(ctx context.Context, token string, since time.Time) (*models.AbandonedCart, error)
	FindOpenByOrderID(ctx context.Context, orderID int64) (*models.AbandonedCart, error)
	ListSince(ctx context.Context, since time.Time) ([]models.AbandonedCart, error)
	MarkRecoveryEmailSent(ctx context.Context, id int64, sentAt time.Time) (bool, error)
	ClearAbandoned(ctx context.Context, id int64, recoveredAt time.Time) error
}

// GormAbandonedCartRepository stores carts in Postgres. Flag transitions are
// single conditional updates, so they are atomic without a transaction.
type GormAbandonedCartRepository struct {
	db *gorm.DB
}

var _ AbandonedCartRepository = (*GormAbandonedCartRepository)(nil)

// NewGormAbandonedCartRepository creates a new Postgres-backed repository
func NewGormAbandonedCartRepository(db *gorm.DB) *GormAbandonedCartRepository {
	return &GormAbandonedCartRepository{db: db}
}

// Create inserts a new snapshot
func (r *GormAbandonedCartRepository) Create(ctx context.Context, cart *models.AbandonedCart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

// GetByID retrieves a cart by ID
func (r *GormAbandonedCartRepository) GetByID(ctx context.Context, id int64) (*models.AbandonedCart, error) {
	var cart models.AbandonedCart
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cart, nil
}

// UpdateSnapshot refreshes the abandonment clock and optionally enriches billing
func (r *GormAbandonedCartRepository) UpdateSnapshot(ctx context.Context, id int64, update SnapshotUpdate) error {
	updates := map[string]interface{}{
		"abandoned_at": update.AbandonedAt,
	}

	if update.RearmRecovery {
		updates["recovery_email_sent"] = false
		updates["recovery_email_sent_at"] = nil
	}

	if b := update.Billing; b != nil {
		// Only supplied fields overwrite what is stored
		setIfPresent(updates, "billing_email", b.Email)
		setIfPresent(updates, "billing_first_name", b.FirstName)
		setIfPresent(updates, "billing_last_name", b.LastName)
		setIfPresent(updates, "billing_phone", b.Phone)
		setIfPresent(updates, "billing_address1", b.Address1)
		setIfPresent(updates, "billing_address2", b.Address2)
		setIfPresent(updates, "billing_city", b.City)
		setIfPresent(updates, "billing_state", b.State)
		setIfPresent(updates, "billing_postcode", b.Postcode)
		setIfPresent(updates, "billing_country", b.Country)
	}

	if len(update.LineItems) > 0 {
		updates["line_items"] = datatypes.JSONSlice[models.LineItem](update.LineItems)
		updates["total"] = update.Total
	}
	if update.OrderID != nil {
		updates["order_id"] = *update.OrderID
	}

	result := r.db.WithContext(ctx).
		Model(&models.AbandonedCart{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update snapshot %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOpenByToken returns the open cart that owns the recovery token
func (r *GormAbandonedCartRepository) FindOpenByToken(ctx context.Context, token string, since time.Time) (*models.AbandonedCart, error) {
	var cart models.AbandonedCart
	err := r.db.WithContext(ctx).
		Where("recovery_token = ? AND is_abandoned = ?", token, true).
		Where("created_at >= ?", since).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cart, nil
}

// FindOpenByOrderID returns the open cart linked to a commerce order
func (r *GormAbandonedCartRepository) FindOpenByOrderID(ctx context.Context, orderID int64) (*models.AbandonedCart, error) {
	var cart models.AbandonedCart
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND is_abandoned = ?", orderID, true).
		Order("id DESC").
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cart, nil
}

// ListSince returns every tracked cart created after since, newest first
func (r *GormAbandonedCartRepository) ListSince(ctx context.Context, since time.Time) ([]models.AbandonedCart, error) {
	var carts []models.AbandonedCart
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&carts).Error
	return carts, err
}

// MarkRecoveryEmailSent sets the sent guard if, and only if, it is still clear.
// The boolean reports whether this call performed the transition.
func (r *GormAbandonedCartRepository) MarkRecoveryEmailSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AbandonedCart{}).
		Where("id = ? AND is_abandoned = ? AND recovery_email_sent = ?", id, true, false).
		Updates(map[string]interface{}{
			"recovery_email_sent":    true,
			"recovery_email_sent_at": sentAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark recovery email sent for %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ClearAbandoned stops tracking a cart after a completed purchase. The row is kept.
func (r *GormAbandonedCartRepository) ClearAbandoned(ctx context.Context, id int64, recoveredAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.AbandonedCart{}).
		Where("id = ? AND is_abandoned = ?", id, true).
		Updates(map[string]interface{}{
			"is_abandoned": false,
			"recovered_at": recoveredAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear abandoned cart %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func setIfPresent(updates map[string]interface{}, column, value string) {
	if value != "" {
		updates[column] = value
	}
}
