package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cart-recovery-service/internal/models"
)

func TestRecoverCart_ReturnsLivePricedItems(t *testing.T) {
	repo := newMemoryCartRepository()
	cart := repo.put(openCart("a@example.com", testNow.Add(-2*time.Hour),
		models.LineItem{ProductID: 11, Quantity: 2},
		models.LineItem{ProductID: 22, VariationID: 221, Quantity: 1},
		models.LineItem{ProductID: 99, Quantity: 1},
	))
	svc := NewRecoveryService(repo, newStubCatalog(), 30*24*time.Hour, fixedClock(testNow), quietLogger())

	recovered, err := svc.RecoverCart(context.Background(), cart.RecoveryToken)

	require.NoError(t, err)
	assert.Equal(t, cart.ID, recovered.OrderID)
	assert.Equal(t, "a@example.com", recovered.BillingData.Email)
	require.Len(t, recovered.Items, 2)
	assert.Equal(t, 12.5, recovered.Items[0].Price)
	assert.Equal(t, "Ceramic Mug", recovered.Items[0].Name())
	assert.Equal(t, 15.0, recovered.Items[1].Price)
	assert.Equal(t, "Coffee Beans - 1kg", recovered.Items[1].Name())
}

func TestRecoverCart_IsReadOnlyAndRepeatable(t *testing.T) {
	repo := newMemoryCartRepository()
	cart := repo.put(openCart("a@example.com", testNow.Add(-2*time.Hour)))
	svc := NewRecoveryService(repo, newStubCatalog(), 30*24*time.Hour, fixedClock(testNow), quietLogger())

	first, err := svc.RecoverCart(context.Background(), cart.RecoveryToken)
	require.NoError(t, err)
	second, err := svc.RecoverCart(context.Background(), cart.RecoveryToken)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	stored := repo.get(cart.ID)
	assert.True(t, stored.IsAbandoned)
	assert.False(t, stored.RecoveryEmailSent)
}

func TestRecoverCart_Misses(t *testing.T) {
	repo := newMemoryCartRepository()
	recovered := openCart("done@example.com", testNow.Add(-2*time.Hour))
	recovered.IsAbandoned = false
	done := repo.put(recovered)
	stale := repo.put(openCart("old@example.com", testNow.Add(-40*24*time.Hour)))
	svc := NewRecoveryService(repo, newStubCatalog(), 30*24*time.Hour, fixedClock(testNow), quietLogger())

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty token", token: "  ", wantErr: ErrValidation},
		{name: "unknown token", token: "nope", wantErr: ErrCartNotFound},
		{name: "already recovered", token: done.RecoveryToken, wantErr: ErrCartNotFound},
		{name: "outside lookback", token: stale.RecoveryToken, wantErr: ErrCartNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart, err := svc.RecoverCart(context.Background(), tt.token)
			assert.Nil(t, cart)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestRecoverCart_AfterCancellationFails(t *testing.T) {
	repo := newMemoryCartRepository()
	cart := repo.put(openCart("a@example.com", testNow.Add(-2*time.Hour)))
	snapshots := newTestSnapshotService(repo, nil, testNow)
	svc := NewRecoveryService(repo, newStubCatalog(), 30*24*time.Hour, fixedClock(testNow), quietLogger())

	snapshots.CancelAbandonedTracking(context.Background(), cart.ID, "checkout")

	_, err := svc.RecoverCart(context.Background(), cart.RecoveryToken)
	assert.ErrorIs(t, err, ErrCartNotFound)
}
