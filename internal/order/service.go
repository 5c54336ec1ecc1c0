package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotOwner       = errors.New("order does not belong to this user")
	ErrNotCancellable = errors.New("order cannot be cancelled")
)

type Service interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, address Address) (*Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID, isAdmin bool) (*Order, error)
	GetMyOrders(ctx context.Context, userID uuid.UUID) ([]Order, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID, isAdmin bool) error
}

type service struct {
	orders Repository
}

func NewService(orders Repository) Service {
	return &service{orders: orders}
}

func (s *service) PlaceOrder(ctx context.Context, userID uuid.UUID, address Address) (*Order, error) {
	if userID == uuid.Nil {
		return nil, errors.New("service: user id is required")
	}
	if address.Country == "" {
		address.Country = "India"
	}

	o, err := s.orders.PlaceOrder(ctx, userID, address)
	if err != nil {
		if errors.Is(err, ErrEmptyCart) || errors.Is(err, ErrProductUnavailable) || errors.Is(err, ErrInsufficientStock) {
			log.Warn().Err(err).Stringer("user_id", userID).Msg("service: order placement rejected")
			return nil, err
		}
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to place order")
		return nil, fmt.Errorf("service: failed to place order: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Stringer("user_id", userID).
		Int64("total_amount", o.TotalAmount).
		Int("items", len(o.Items)).
		Msg("service: order placed")

	return o, nil
}

func (s *service) GetOrder(ctx context.Context, userID, orderID uuid.UUID, isAdmin bool) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}

	if o.UserID != userID && !isAdmin {
		return nil, ErrNotOwner
	}

	return o, nil
}

func (s *service) GetMyOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orders.GetByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, isAdmin bool) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to fetch order for cancel: %w", err)
	}

	if o.UserID != userID && !isAdmin {
		return ErrNotOwner
	}

	// Paid or already-terminal orders go through the refund path instead.
	if o.PaymentStatus == PaymentPaid || !CanTransition(o.Status, StatusCancelled) {
		return ErrNotCancellable
	}

	if err := s.orders.CancelAndRestoreStock(ctx, orderID, "cancelled by user"); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to cancel order")
		return fmt.Errorf("service: failed to cancel order: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("user_id", userID).Msg("service: order cancelled")

	return nil
}
