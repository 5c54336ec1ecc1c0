package order_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmart/checkout-service/internal/order"
)

type mockOrderRepository struct {
	placeOrderFunc            func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error)
	getByIDFunc               func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	getByUserIDFunc           func(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	cancelAndRestoreStockFunc func(ctx context.Context, orderID uuid.UUID, reason string) error
}

func (m *mockOrderRepository) PlaceOrder(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
	return m.placeOrderFunc(ctx, userID, address)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	return m.getByUserIDFunc(ctx, userID)
}

func (m *mockOrderRepository) CancelAndRestoreStock(ctx context.Context, orderID uuid.UUID, reason string) error {
	return m.cancelAndRestoreStockFunc(ctx, orderID, reason)
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

func testAddress() order.Address {
	return order.Address{
		Name:    "Asha Rao",
		Phone:   "9876543210",
		Street:  "12 MG Road",
		City:    "Bengaluru",
		State:   "Karnataka",
		Pincode: "560001",
	}
}

func TestService_PlaceOrder(t *testing.T) {
	userID := uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	productID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440000"))

	tests := []struct {
		name      string
		userID    uuid.UUID
		placeFunc func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error)
		wantErrIs error
		wantErr   bool
	}{
		{
			name:   "empty_cart",
			userID: userID,
			placeFunc: func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
				return nil, order.ErrEmptyCart
			},
			wantErr:   true,
			wantErrIs: order.ErrEmptyCart,
		},
		{
			name:   "product_unavailable",
			userID: userID,
			placeFunc: func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
				return nil, fmt.Errorf("%w: product %s", order.ErrProductUnavailable, productID)
			},
			wantErr:   true,
			wantErrIs: order.ErrProductUnavailable,
		},
		{
			name:   "insufficient_stock",
			userID: userID,
			placeFunc: func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
				return nil, fmt.Errorf("%w: product %s", order.ErrInsufficientStock, productID)
			},
			wantErr:   true,
			wantErrIs: order.ErrInsufficientStock,
		},
		{
			name:   "nil_user",
			userID: uuid.Nil,
			placeFunc: func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
				t.Fatal("repository must not be called for a nil user")
				return nil, nil
			},
			wantErr: true,
		},
		{
			name:   "success",
			userID: userID,
			placeFunc: func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
				return &order.Order{
					ID:            uuid.Must(uuid.NewV4()),
					UserID:        userID,
					Status:        order.StatusPlaced,
					PaymentStatus: order.PaymentPending,
					TotalAmount:   2000,
					Currency:      "INR",
					Address:       address,
					CreatedAt:     time.Now().UTC(),
				}, nil
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockOrderRepository{placeOrderFunc: tt.placeFunc}
			svc := order.NewService(repo)

			placed, err := svc.PlaceOrder(context.Background(), tt.userID, testAddress())
			if tt.wantErr {
				assert.Error(t, err)
				if tt.wantErrIs != nil {
					assert.True(t, errors.Is(err, tt.wantErrIs))
				}
				assert.Nil(t, placed)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, placed)
				assert.Equal(t, order.StatusPlaced, placed.Status)
				assert.Equal(t, order.PaymentPending, placed.PaymentStatus)
			}
		})
	}
}

func TestService_PlaceOrder_DefaultsCountry(t *testing.T) {
	var seen order.Address
	repo := &mockOrderRepository{
		placeOrderFunc: func(ctx context.Context, userID uuid.UUID, address order.Address) (*order.Order, error) {
			seen = address
			return &order.Order{ID: uuid.Must(uuid.NewV4()), UserID: userID, Address: address}, nil
		},
	}
	svc := order.NewService(repo)

	_, err := svc.PlaceOrder(context.Background(), mustUUID(t), testAddress())
	require.NoError(t, err)
	assert.Equal(t, "India", seen.Country)
}

func TestService_GetOrder(t *testing.T) {
	ownerID := mustUUID(t)
	strangerID := mustUUID(t)
	orderID := mustUUID(t)

	repo := &mockOrderRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			if id != orderID {
				return nil, order.ErrOrderNotFound
			}
			return &order.Order{ID: orderID, UserID: ownerID}, nil
		},
	}
	svc := order.NewService(repo)

	t.Run("owner_can_read", func(t *testing.T) {
		o, err := svc.GetOrder(context.Background(), ownerID, orderID, false)
		require.NoError(t, err)
		assert.Equal(t, orderID, o.ID)
	})

	t.Run("stranger_rejected", func(t *testing.T) {
		_, err := svc.GetOrder(context.Background(), strangerID, orderID, false)
		assert.True(t, errors.Is(err, order.ErrNotOwner))
	})

	t.Run("admin_can_read", func(t *testing.T) {
		o, err := svc.GetOrder(context.Background(), strangerID, orderID, true)
		require.NoError(t, err)
		assert.Equal(t, orderID, o.ID)
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := svc.GetOrder(context.Background(), ownerID, mustUUID(t), false)
		assert.True(t, errors.Is(err, order.ErrOrderNotFound))
	})
}

func TestService_CancelOrder(t *testing.T) {
	ownerID := mustUUID(t)
	orderID := mustUUID(t)

	tests := []struct {
		name       string
		current    *order.Order
		callerID   uuid.UUID
		wantErrIs  error
		wantCancel bool
	}{
		{
			name:       "placed_order_cancellable",
			current:    &order.Order{ID: orderID, UserID: ownerID, Status: order.StatusPlaced, PaymentStatus: order.PaymentPending},
			callerID:   ownerID,
			wantCancel: true,
		},
		{
			name:       "payment_pending_cancellable",
			current:    &order.Order{ID: orderID, UserID: ownerID, Status: order.StatusPaymentPending, PaymentStatus: order.PaymentPending},
			callerID:   ownerID,
			wantCancel: true,
		},
		{
			name:      "paid_order_not_cancellable",
			current:   &order.Order{ID: orderID, UserID: ownerID, Status: order.StatusConfirmed, PaymentStatus: order.PaymentPaid},
			callerID:  ownerID,
			wantErrIs: order.ErrNotCancellable,
		},
		{
			name:      "refunded_order_not_cancellable",
			current:   &order.Order{ID: orderID, UserID: ownerID, Status: order.StatusRefunded, PaymentStatus: order.PaymentRefunded},
			callerID:  ownerID,
			wantErrIs: order.ErrNotCancellable,
		},
		{
			name:      "stranger_rejected",
			current:   &order.Order{ID: orderID, UserID: ownerID, Status: order.StatusPlaced, PaymentStatus: order.PaymentPending},
			callerID:  mustUUID(t),
			wantErrIs: order.ErrNotOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cancelled := false
			repo := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					return tt.current, nil
				},
				cancelAndRestoreStockFunc: func(ctx context.Context, id uuid.UUID, reason string) error {
					cancelled = true
					assert.Equal(t, orderID, id)
					return nil
				},
			}
			svc := order.NewService(repo)

			err := svc.CancelOrder(context.Background(), tt.callerID, orderID, false)
			if tt.wantErrIs != nil {
				assert.True(t, errors.Is(err, tt.wantErrIs))
				assert.False(t, cancelled)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantCancel, cancelled)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to order.Status
		want     bool
	}{
		{order.StatusPlaced, order.StatusPaymentPending, true},
		{order.StatusPlaced, order.StatusCancelled, true},
		{order.StatusPlaced, order.StatusRefunded, false},
		{order.StatusPaymentPending, order.StatusConfirmed, true},
		{order.StatusConfirmed, order.StatusReturnApproved, true},
		{order.StatusConfirmed, order.StatusRefunded, true},
		{order.StatusReturnApproved, order.StatusRefunded, true},
		{order.StatusCancelled, order.StatusConfirmed, false},
		{order.StatusRefunded, order.StatusCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, order.CanTransition(tt.from, tt.to),
			"transition %s -> %s", tt.from, tt.to)
	}
}
