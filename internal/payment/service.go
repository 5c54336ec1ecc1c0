package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/gateway"
	"github.com/stackmart/checkout-service/internal/order"
)

var (
	ErrNotOwner           = errors.New("order does not belong to this user")
	ErrOrderAlreadyPaid   = errors.New("order is already paid")
	ErrOrderCancelled     = errors.New("order is cancelled")
	ErrOrderRefunded      = errors.New("order is refunded")
	ErrRefundNotAllowed   = errors.New("refund not allowed")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// refundableOrderStatuses is the allow-list of order states an admin refund
// may run from.
var refundableOrderStatuses = map[order.Status]bool{
	order.StatusConfirmed:      true,
	order.StatusCancelled:      true,
	order.StatusReturnApproved: true,
}

// CheckoutIntent is what the client needs to drive the gateway checkout flow.
type CheckoutIntent struct {
	KeyID          string `json:"key_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type Service interface {
	// InitiatePayment returns a checkout intent for the order, reusing the
	// existing PENDING attempt when one exists so client retries never create
	// duplicate gateway intents.
	InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*CheckoutIntent, error)
	// Refund reverses a captured attempt: gateway first, then local state.
	Refund(ctx context.Context, attemptID uuid.UUID) error
}

type service struct {
	payments Repository
	orders   order.Repository
	gateway  gateway.PaymentGateway
	keyID    string
}

func NewService(payments Repository, orders order.Repository, gw gateway.PaymentGateway, keyID string) Service {
	return &service{payments: payments, orders: orders, gateway: gw, keyID: keyID}
}

func (s *service) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*CheckoutIntent, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for payment: %w", err)
	}

	if o.UserID != userID {
		return nil, ErrNotOwner
	}
	if o.PaymentStatus == order.PaymentPaid {
		return nil, ErrOrderAlreadyPaid
	}
	if o.Status == order.StatusCancelled {
		return nil, ErrOrderCancelled
	}
	if o.Status == order.StatusRefunded {
		return nil, ErrOrderRefunded
	}

	pending, err := s.payments.GetPendingByOrder(ctx, orderID)
	if err == nil {
		log.Debug().Stringer("order_id", orderID).Str("gateway_order_id", pending.GatewayOrderID).
			Msg("service: reusing pending payment attempt")
		return s.intentFor(pending), nil
	}
	if !errors.Is(err, ErrAttemptNotFound) {
		return nil, fmt.Errorf("service: failed to check pending attempt: %w", err)
	}

	// The gateway call runs outside any transaction; it can take unbounded
	// time and is not revocable by a rollback.
	receipt := fmt.Sprintf("order_%s_%d", o.ID, time.Now().UnixMilli())
	gwOrder, err := s.gateway.CreateOrder(ctx, o.TotalAmount, o.Currency, receipt)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: gateway order creation failed")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	attempt := &Attempt{
		OrderID:        o.ID,
		UserID:         userID,
		Amount:         o.TotalAmount,
		Currency:       o.Currency,
		GatewayOrderID: gwOrder.ID,
	}
	if err := s.payments.Create(ctx, attempt); err != nil {
		if errors.Is(err, ErrPendingAttemptExists) {
			// Lost a race with a concurrent initiate; hand back the winner's
			// attempt. The orphaned gateway intent simply expires unpaid.
			winner, getErr := s.payments.GetPendingByOrder(ctx, orderID)
			if getErr != nil {
				return nil, fmt.Errorf("service: failed to fetch winning attempt: %w", getErr)
			}
			return s.intentFor(winner), nil
		}
		return nil, fmt.Errorf("service: failed to create payment attempt: %w", err)
	}

	if err := s.payments.MarkOrderPaymentPending(ctx, orderID); err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: failed to mark order payment pending")
	}

	log.Info().
		Stringer("order_id", orderID).
		Stringer("attempt_id", attempt.ID).
		Str("gateway_order_id", gwOrder.ID).
		Int64("amount", o.TotalAmount).
		Msg("service: payment attempt created")

	return s.intentFor(attempt), nil
}

func (s *service) intentFor(a *Attempt) *CheckoutIntent {
	return &CheckoutIntent{
		KeyID:          s.keyID,
		GatewayOrderID: a.GatewayOrderID,
		Amount:         a.Amount,
		Currency:       a.Currency,
	}
}

func (s *service) Refund(ctx context.Context, attemptID uuid.UUID) error {
	a, err := s.payments.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("service: failed to fetch attempt for refund: %w", err)
	}

	if a.Status != StatusSuccess {
		return ErrRefundNotAllowed
	}

	o, err := s.orders.GetByID(ctx, a.OrderID)
	if err != nil {
		return fmt.Errorf("service: failed to fetch order for refund: %w", err)
	}
	if !refundableOrderStatuses[o.Status] {
		return ErrRefundNotAllowed
	}

	// Gateway first, outside any transaction. On failure nothing local has
	// changed, so the admin can simply retry.
	if err := s.gateway.Refund(ctx, a.GatewayPaymentID, a.Amount); err != nil {
		log.Error().Err(err).Stringer("attempt_id", attemptID).Msg("service: gateway refund failed")
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.payments.MarkRefunded(ctx, attemptID); err != nil {
		if errors.Is(err, ErrAttemptNotRefundable) {
			return ErrRefundNotAllowed
		}
		log.Error().Err(err).Stringer("attempt_id", attemptID).Msg("service: failed to record refund")
		return fmt.Errorf("service: failed to record refund: %w", err)
	}

	log.Info().
		Stringer("attempt_id", attemptID).
		Stringer("order_id", a.OrderID).
		Int64("amount", a.Amount).
		Msg("service: payment refunded")

	return nil
}
