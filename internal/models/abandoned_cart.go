package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CartState is the lifecycle state of a tracked cart snapshot
type CartState string

const (
	CartStateAbandoned CartState = "abandoned" // Open, shopper has not completed checkout
	CartStateRecovered CartState = "recovered" // Tracking cleared by a completed purchase
	CartStateUntracked CartState = "untracked" // Tag cleared without a recovery stamp
)

// CartStage sub-classifies abandoned carts for reporting. It is never stored.
type CartStage string

const (
	CartStageFresh         CartStage = "fresh"          // Younger than the grace period
	CartStageAwaitingEmail CartStage = "awaiting_email" // Past grace period, no email yet
	CartStageEmailed       CartStage = "emailed"        // Recovery email already sent
)

// LineItem is one product line of a cart snapshot. Prices are never stored;
// they are resolved against the live catalog when the cart is recovered.
type LineItem struct {
	ProductID   int64 `json:"productId"`
	VariationID int64 `json:"variationId,omitempty"`
	Quantity    int   `json:"quantity"`
}

// BillingData holds the shopper's contact and address fields. Any of them may
// be empty: the first capture usually carries the email only.
type BillingData struct {
	Email     string `json:"email" gorm:"type:varchar(255);index"`
	FirstName string `json:"first_name" gorm:"type:varchar(100)"`
	LastName  string `json:"last_name" gorm:"type:varchar(100)"`
	Phone     string `json:"phone" gorm:"type:varchar(50)"`
	Address1  string `json:"address_1" gorm:"type:varchar(255)"`
	Address2  string `json:"address_2" gorm:"type:varchar(255)"`
	City      string `json:"city" gorm:"type:varchar(100)"`
	State     string `json:"state" gorm:"type:varchar(100)"`
	Postcode  string `json:"postcode" gorm:"type:varchar(20)"`
	Country   string `json:"country" gorm:"type:varchar(2)"`
}

// FullName joins first and last name, skipping blanks
func (b BillingData) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(b.FirstName) + " " + strings.TrimSpace(b.LastName))
}

// AbandonedCart is a snapshot of a shopper's cart captured during checkout,
// tracked until the shopper completes a purchase or the record ages out.
type AbandonedCart struct {
	ID            int64  `json:"id" gorm:"primaryKey"`
	RecoveryToken string `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`

	// Commerce order the checkout created for this cart, when known. Purchase
	// notifications address carts through this column, never through ID.
	OrderID *int64 `json:"orderId,omitempty" gorm:"index"`

	IsAbandoned bool      `json:"isAbandonedCart" gorm:"not null;default:true;index"`
	AbandonedAt time.Time `json:"abandonedAt" gorm:"not null;index"`

	// Sweep idempotence guard. Only moves false -> true within one lifecycle.
	RecoveryEmailSent   bool       `json:"recoveryEmailSent" gorm:"not null;default:false"`
	RecoveryEmailSentAt *time.Time `json:"recoveryEmailSentAt"`
	RecoveredAt         *time.Time `json:"recoveredAt"`

	Billing   BillingData                  `json:"billing" gorm:"embedded;embeddedPrefix:billing_"`
	LineItems datatypes.JSONSlice[LineItem] `json:"lineItems" gorm:"type:jsonb;not null"`
	Total     float64                      `json:"total" gorm:"type:decimal(12,2);default:0"` // Estimate at snapshot time

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the table name for GORM
func (AbandonedCart) TableName() string {
	return "abandoned_carts"
}

// State classifies the cart from its tracking flags
func (ac *AbandonedCart) State() CartState {
	if ac.IsAbandoned {
		return CartStateAbandoned
	}
	if ac.RecoveredAt != nil {
		return CartStateRecovered
	}
	return CartStateUntracked
}

// Stage sub-classifies an abandoned cart relative to the grace period
func (ac *AbandonedCart) Stage(now time.Time, grace time.Duration) CartStage {
	switch {
	case ac.RecoveryEmailSent:
		return CartStageEmailed
	case now.Sub(ac.AbandonedAt) < grace:
		return CartStageFresh
	default:
		return CartStageAwaitingEmail
	}
}

// EligibleForRecoveryEmail reports whether the sweep may email this cart now.
// The cart must be strictly older than the grace period.
func (ac *AbandonedCart) EligibleForRecoveryEmail(now time.Time, grace time.Duration) bool {
	if !ac.IsAbandoned || ac.RecoveryEmailSent {
		return false
	}
	if ac.RecoveryToken == "" || strings.TrimSpace(ac.Billing.Email) == "" {
		return false
	}
	return now.Sub(ac.AbandonedAt) > grace
}

// ItemCount sums the quantities of all line items
func (ac *AbandonedCart) ItemCount() int {
	count := 0
	for _, item := range ac.LineItems {
		count += item.Quantity
	}
	return count
}

// MarkRecoveryEmailSent flips the sent guard. Returns false if it was already set.
func (ac *AbandonedCart) MarkRecoveryEmailSent(at time.Time) bool {
	if ac.RecoveryEmailSent {
		return false
	}
	ac.RecoveryEmailSent = true
	ac.RecoveryEmailSentAt = &at
	return true
}

// MarkRecovered clears the abandoned tag after a completed purchase
func (ac *AbandonedCart) MarkRecovered(at time.Time) {
	ac.IsAbandoned = false
	ac.RecoveredAt = &at
}
