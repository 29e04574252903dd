package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/models"
	"cart-recovery-service/internal/repository"
)

var testNow = time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memoryCartRepository is an in-memory AbandonedCartRepository with the same
// conditional write semantics as the Postgres implementation
type memoryCartRepository struct {
	mu     sync.Mutex
	nextID int64
	carts  map[int64]*models.AbandonedCart

	listErr error
	markErr error
}

var _ repository.AbandonedCartRepository = (*memoryCartRepository)(nil)

func newMemoryCartRepository() *memoryCartRepository {
	return &memoryCartRepository{nextID: 100, carts: map[int64]*models.AbandonedCart{}}
}

func (r *memoryCartRepository) put(cart models.AbandonedCart) *models.AbandonedCart {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cart.ID == 0 {
		r.nextID++
		cart.ID = r.nextID
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.AbandonedAt
	}
	c := cart
	r.carts[c.ID] = &c
	return &c
}

func (r *memoryCartRepository) get(id int64) models.AbandonedCart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.carts[id]
}

func (r *memoryCartRepository) Create(_ context.Context, cart *models.AbandonedCart) error {
	stored := r.put(*cart)
	cart.ID = stored.ID
	cart.CreatedAt = stored.CreatedAt
	return nil
}

func (r *memoryCartRepository) GetByID(_ context.Context, id int64) (*models.AbandonedCart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *cart
	return &c, nil
}

func (r *memoryCartRepository) UpdateSnapshot(_ context.Context, id int64, update repository.SnapshotUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	if !ok {
		return repository.ErrNotFound
	}
	cart.AbandonedAt = update.AbandonedAt
	if len(update.LineItems) > 0 {
		cart.LineItems = update.LineItems
		cart.Total = update.Total
	}
	if update.OrderID != nil {
		id := *update.OrderID
		cart.OrderID = &id
	}
	if update.RearmRecovery {
		cart.RecoveryEmailSent = false
		cart.RecoveryEmailSentAt = nil
	}
	if b := update.Billing; b != nil {
		if b.Email != "" {
			cart.Billing.Email = b.Email
		}
		if b.FirstName != "" {
			cart.Billing.FirstName = b.FirstName
		}
		if b.LastName != "" {
			cart.Billing.LastName = b.LastName
		}
		if b.Phone != "" {
			cart.Billing.Phone = b.Phone
		}
	}
	return nil
}

func (r *memoryCartRepository) FindOpenByToken(_ context.Context, token string, since time.Time) (*models.AbandonedCart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cart := range r.carts {
		if cart.RecoveryToken == token && cart.IsAbandoned && !cart.CreatedAt.Before(since) {
			c := *cart
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryCartRepository) FindOpenByOrderID(_ context.Context, orderID int64) (*models.AbandonedCart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cart := range r.carts {
		if cart.OrderID != nil && *cart.OrderID == orderID && cart.IsAbandoned {
			c := *cart
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryCartRepository) ListSince(_ context.Context, since time.Time) ([]models.AbandonedCart, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var carts []models.AbandonedCart
	for _, cart := range r.carts {
		if !cart.CreatedAt.Before(since) {
			carts = append(carts, *cart)
		}
	}
	sort.Slice(carts, func(i, j int) bool { return carts[i].CreatedAt.After(carts[j].CreatedAt) })
	return carts, nil
}

func (r *memoryCartRepository) MarkRecoveryEmailSent(_ context.Context, id int64, sentAt time.Time) (bool, error) {
	if r.markErr != nil {
		return false, r.markErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	if !ok || !cart.IsAbandoned || cart.RecoveryEmailSent {
		return false, nil
	}
	cart.RecoveryEmailSent = true
	cart.RecoveryEmailSentAt = &sentAt
	return true, nil
}

func (r *memoryCartRepository) ClearAbandoned(_ context.Context, id int64, recoveredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	if !ok || !cart.IsAbandoned {
		return repository.ErrNotFound
	}
	cart.IsAbandoned = false
	cart.RecoveredAt = &recoveredAt
	return nil
}

// stubCatalog serves products and variations from maps
type stubCatalog struct {
	products   map[int64]*clients.Product
	variations map[int64]*clients.Variation
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		products: map[int64]*clients.Product{
			11: {ID: 11, Name: "Ceramic Mug", Price: "12.50", Images: []clients.Image{{Src: "https://cdn.example.com/mug.jpg"}}},
			22: {ID: 22, Name: "Coffee Beans", Price: "9.00"},
		},
		variations: map[int64]*clients.Variation{
			221: {ID: 221, Price: "15.00", Attributes: []clients.Attribute{{Name: "Weight", Option: "1kg"}}},
		},
	}
}

var errUnavailable = errors.New("not available")

func (c *stubCatalog) GetProduct(_ context.Context, productID int64) (*clients.Product, error) {
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	return nil, errUnavailable
}

func (c *stubCatalog) GetVariation(_ context.Context, _, variationID int64) (*clients.Variation, error) {
	if v, ok := c.variations[variationID]; ok {
		return v, nil
	}
	return nil, errUnavailable
}

// MockMailer is a mock implementation of clients.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, email *clients.Email) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// recordingPublisher collects published event types
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishSnapshotRecorded(_ context.Context, _ *models.AbandonedCart, created bool) error {
	if created {
		return p.record("created")
	}
	return p.record("updated")
}

func (p *recordingPublisher) PublishRecoveryEmailSent(_ context.Context, _ *models.AbandonedCart) error {
	return p.record("emailed")
}

func (p *recordingPublisher) PublishCartRecovered(_ context.Context, _ int64, source string) error {
	return p.record("recovered:" + source)
}

func openCart(email string, abandonedAt time.Time, items ...models.LineItem) models.AbandonedCart {
	if len(items) == 0 {
		items = []models.LineItem{{ProductID: 11, Quantity: 2}}
	}
	return models.AbandonedCart{
		RecoveryToken: "tok-" + email,
		IsAbandoned:   true,
		AbandonedAt:   abandonedAt,
		Billing:       models.BillingData{Email: email, FirstName: "Ana"},
		LineItems:     items,
	}
}
