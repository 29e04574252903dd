// Package services implements the abandoned cart recovery pipeline: snapshot
// capture, the recovery email sweep, token redemption, tracking cancellation
// and reporting.
package services

import (
	"context"
	"errors"
	"time"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/models"
)

var (
	// ErrValidation marks caller input errors; handlers map it to 400
	ErrValidation = errors.New("validation failed")
	// ErrCartNotFound is returned for unknown, expired or already recovered tokens
	ErrCartNotFound = errors.New("cart not found or link expired")
	// ErrSweepInProgress is returned when another sweep holds the run lock
	ErrSweepInProgress = errors.New("recovery sweep already in progress")
)

// Catalog resolves live product data
type Catalog interface {
	GetProduct(ctx context.Context, productID int64) (*clients.Product, error)
	GetVariation(ctx context.Context, productID, variationID int64) (*clients.Variation, error)
}

// EventPublisher emits cart lifecycle events. Implementations publish
// asynchronously; a nil publisher disables events.
type EventPublisher interface {
	PublishSnapshotRecorded(ctx context.Context, cart *models.AbandonedCart, created bool) error
	PublishRecoveryEmailSent(ctx context.Context, cart *models.AbandonedCart) error
	PublishCartRecovered(ctx context.Context, cartID int64, source string) error
}

// Clock returns the current time
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}
