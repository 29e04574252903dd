package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/models"
)

// Order metadata keys carrying the cart tracking state
const (
	MetaAbandonedCart       = "_abandoned_cart"
	MetaRecoveryToken       = "_recovery_token"
	MetaAbandonedAt         = "_abandoned_at"
	MetaRecoveryEmailSent   = "_recovery_email_sent"
	MetaRecoveryEmailSentAt = "_recovery_email_sent_at"
	MetaRecoveredAt         = "_recovered_at"

	snapshotOrderStatus = "pending"
	ordersPageSize      = 100
	maxOrderPages       = 20
)

// OrderStore is the part of the commerce API the tag-bag repository needs
type OrderStore interface {
	ListOrders(ctx context.Context, q clients.OrderQuery) ([]clients.Order, error)
	GetOrder(ctx context.Context, id int64) (*clients.Order, error)
	CreateOrder(ctx context.Context, req *clients.CreateOrderRequest) (*clients.Order, error)
	UpdateOrder(ctx context.Context, id int64, req *clients.UpdateOrderRequest) (*clients.Order, error)
}

// CommerceAbandonedCartRepository keeps cart snapshots as pending WooCommerce
// orders tagged through order metadata. The commerce API has no conditional
// writes, so every flag transition is a read followed by a write and two
// concurrent callers can both observe the old value.
type CommerceAbandonedCartRepository struct {
	store OrderStore
}

var _ AbandonedCartRepository = (*CommerceAbandonedCartRepository)(nil)

// NewCommerceAbandonedCartRepository creates a repository over the commerce order API
func NewCommerceAbandonedCartRepository(store OrderStore) *CommerceAbandonedCartRepository {
	return &CommerceAbandonedCartRepository{store: store}
}

// Create places a pending order tagged as an abandoned cart
func (r *CommerceAbandonedCartRepository) Create(ctx context.Context, cart *models.AbandonedCart) error {
	lines := orderLines(cart.LineItems)

	order, err := r.store.CreateOrder(ctx, &clients.CreateOrderRequest{
		Status:     snapshotOrderStatus,
		CreatedVia: "cart-recovery",
		Billing:    cart.Billing,
		LineItems:  lines,
		MetaData: []clients.MetaData{
			{Key: MetaAbandonedCart, Value: encodeFlag(true)},
			{Key: MetaRecoveryToken, Value: cart.RecoveryToken},
			{Key: MetaAbandonedAt, Value: encodeTime(cart.AbandonedAt)},
			{Key: MetaRecoveryEmailSent, Value: encodeFlag(false)},
		},
	})
	if err != nil {
		return err
	}

	cart.ID = order.ID
	cart.OrderID = &order.ID
	cart.CreatedAt = order.CreatedAt()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.AbandonedAt
	}
	if total := order.TotalAmount(); total > 0 {
		cart.Total = total
	}
	return nil
}

// GetByID loads a tagged order
func (r *CommerceAbandonedCartRepository) GetByID(ctx context.Context, id int64) (*models.AbandonedCart, error) {
	order, err := r.store.GetOrder(ctx, id)
	if err != nil {
		if clients.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if _, tracked := order.Meta(MetaRecoveryToken); !tracked {
		return nil, ErrNotFound
	}
	return cartFromOrder(order), nil
}

// UpdateSnapshot refreshes the abandonment clock and merges supplied billing fields
func (r *CommerceAbandonedCartRepository) UpdateSnapshot(ctx context.Context, id int64, update SnapshotUpdate) error {
	req := &clients.UpdateOrderRequest{
		MetaData: []clients.MetaData{
			{Key: MetaAbandonedAt, Value: encodeTime(update.AbandonedAt)},
		},
	}
	if update.RearmRecovery {
		req.MetaData = append(req.MetaData,
			clients.MetaData{Key: MetaRecoveryEmailSent, Value: encodeFlag(false)},
			clients.MetaData{Key: MetaRecoveryEmailSentAt, Value: ""},
		)
	}
	if b := update.Billing; b != nil {
		billing := map[string]string{}
		for key, value := range map[string]string{
			"email":      b.Email,
			"first_name": b.FirstName,
			"last_name":  b.LastName,
			"phone":      b.Phone,
			"address_1":  b.Address1,
			"address_2":  b.Address2,
			"city":       b.City,
			"state":      b.State,
			"postcode":   b.Postcode,
			"country":    b.Country,
		} {
			if value != "" {
				billing[key] = value
			}
		}
		if len(billing) > 0 {
			req.Billing = billing
		}
	}

	if len(update.LineItems) > 0 {
		// WooCommerce merges line items by id, so the current lines are
		// zeroed out and the new cart appended in the same write
		order, err := r.store.GetOrder(ctx, id)
		if err != nil {
			if clients.IsNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		for _, line := range order.LineItems {
			req.LineItems = append(req.LineItems, clients.OrderLineItem{ID: line.ID, Quantity: 0})
		}
		req.LineItems = append(req.LineItems, orderLines(update.LineItems)...)
	}

	if _, err := r.store.UpdateOrder(ctx, id, req); err != nil {
		if clients.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// FindOpenByOrderID loads the order itself, since every snapshot here is an order
func (r *CommerceAbandonedCartRepository) FindOpenByOrderID(ctx context.Context, orderID int64) (*models.AbandonedCart, error) {
	cart, err := r.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !cart.IsAbandoned {
		return nil, ErrNotFound
	}
	return cart, nil
}

// FindOpenByToken scans recent pending orders for an open cart with the token
func (r *CommerceAbandonedCartRepository) FindOpenByToken(ctx context.Context, token string, since time.Time) (*models.AbandonedCart, error) {
	var found *models.AbandonedCart
	err := r.scanPending(ctx, since, func(order *clients.Order) bool {
		tok, _ := order.Meta(MetaRecoveryToken)
		flag, _ := order.Meta(MetaAbandonedCart)
		if tok == token && decodeFlag(flag) {
			found = cartFromOrder(order)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// ListSince returns every tagged pending order created after since
func (r *CommerceAbandonedCartRepository) ListSince(ctx context.Context, since time.Time) ([]models.AbandonedCart, error) {
	var carts []models.AbandonedCart
	err := r.scanPending(ctx, since, func(order *clients.Order) bool {
		if _, tracked := order.Meta(MetaRecoveryToken); tracked {
			carts = append(carts, *cartFromOrder(order))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return carts, nil
}

// MarkRecoveryEmailSent re-fetches the order and sets the sent flag if it is still clear
func (r *CommerceAbandonedCartRepository) MarkRecoveryEmailSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	order, err := r.store.GetOrder(ctx, id)
	if err != nil {
		if clients.IsNotFound(err) {
			return false, ErrNotFound
		}
		return false, err
	}

	flag, _ := order.Meta(MetaAbandonedCart)
	sent, _ := order.Meta(MetaRecoveryEmailSent)
	if !decodeFlag(flag) || decodeFlag(sent) {
		return false, nil
	}

	_, err = r.store.UpdateOrder(ctx, id, &clients.UpdateOrderRequest{
		MetaData: []clients.MetaData{
			{Key: MetaRecoveryEmailSent, Value: encodeFlag(true)},
			{Key: MetaRecoveryEmailSentAt, Value: encodeTime(sentAt)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to tag order %d as emailed: %w", id, err)
	}
	return true, nil
}

// ClearAbandoned untags the order and stamps the recovery time
func (r *CommerceAbandonedCartRepository) ClearAbandoned(ctx context.Context, id int64, recoveredAt time.Time) error {
	_, err := r.store.UpdateOrder(ctx, id, &clients.UpdateOrderRequest{
		MetaData: []clients.MetaData{
			{Key: MetaAbandonedCart, Value: encodeFlag(false)},
			{Key: MetaRecoveredAt, Value: encodeTime(recoveredAt)},
		},
	})
	if err != nil {
		if clients.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to untag order %d: %w", id, err)
	}
	return nil
}

// scanPending pages through pending orders newest first until visit returns
// false or the page cap is reached
func (r *CommerceAbandonedCartRepository) scanPending(ctx context.Context, since time.Time, visit func(*clients.Order) bool) error {
	for page := 1; page <= maxOrderPages; page++ {
		orders, err := r.store.ListOrders(ctx, clients.OrderQuery{
			Status:  snapshotOrderStatus,
			After:   since,
			Page:    page,
			PerPage: ordersPageSize,
		})
		if err != nil {
			return err
		}
		for i := range orders {
			if !visit(&orders[i]) {
				return nil
			}
		}
		if len(orders) < ordersPageSize {
			return nil
		}
	}
	return nil
}

func orderLines(items []models.LineItem) []clients.OrderLineItem {
	lines := make([]clients.OrderLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, clients.OrderLineItem{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
		})
	}
	return lines
}

func cartFromOrder(order *clients.Order) *models.AbandonedCart {
	orderID := order.ID
	cart := &models.AbandonedCart{
		ID:        order.ID,
		OrderID:   &orderID,
		Billing:   order.Billing,
		Total:     order.TotalAmount(),
		CreatedAt: order.CreatedAt(),
	}
	cart.UpdatedAt = cart.CreatedAt

	cart.RecoveryToken, _ = order.Meta(MetaRecoveryToken)
	flag, _ := order.Meta(MetaAbandonedCart)
	cart.IsAbandoned = decodeFlag(flag)
	sent, _ := order.Meta(MetaRecoveryEmailSent)
	cart.RecoveryEmailSent = decodeFlag(sent)

	if raw, ok := order.Meta(MetaAbandonedAt); ok {
		cart.AbandonedAt = decodeTime(raw)
	}
	if cart.AbandonedAt.IsZero() {
		cart.AbandonedAt = cart.CreatedAt
	}
	if raw, ok := order.Meta(MetaRecoveryEmailSentAt); ok {
		if t := decodeTime(raw); !t.IsZero() {
			cart.RecoveryEmailSentAt = &t
		}
	}
	if raw, ok := order.Meta(MetaRecoveredAt); ok {
		if t := decodeTime(raw); !t.IsZero() {
			cart.RecoveredAt = &t
		}
	}

	for _, line := range order.LineItems {
		cart.LineItems = append(cart.LineItems, models.LineItem{
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
		})
	}
	return cart
}

func encodeFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func decodeFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return t
}
