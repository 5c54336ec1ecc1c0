package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/gateway"
	"github.com/stackmart/checkout-service/internal/notification"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrAmountMismatch   = errors.New("webhook amount does not match payment attempt")
)

// Reconciler consumes gateway notifications and drives the attempt/order
// state machine. Every path is safe under replay: the same notification
// delivered N times ends in the same state as delivered once.
type Reconciler struct {
	payments      Repository
	gateway       gateway.PaymentGateway
	publisher     notification.Publisher
	webhookSecret string
}

func NewReconciler(payments Repository, gw gateway.PaymentGateway, publisher notification.Publisher, webhookSecret string) *Reconciler {
	return &Reconciler{
		payments:      payments,
		gateway:       gw,
		publisher:     publisher,
		webhookSecret: webhookSecret,
	}
}

// HandleNotification processes one raw webhook delivery. The returned error
// is for internal logging only; the HTTP layer acknowledges the gateway
// regardless, because a non-2xx only triggers redelivery storms.
func (r *Reconciler) HandleNotification(ctx context.Context, body []byte, signature string) error {
	// Authenticity check comes before any state is read, so a forged request
	// learns nothing from timing or responses.
	if !gateway.VerifyWebhookSignature(body, signature, r.webhookSecret) {
		return ErrInvalidSignature
	}

	event, err := gateway.ParseWebhookEvent(body)
	if err != nil {
		return err
	}

	entity := event.Payload.Payment.Entity
	if entity.OrderID == "" {
		log.Debug().Str("event", event.Event).Msg("reconciler: notification without payment entity, ignoring")
		return nil
	}

	a, err := r.payments.GetByGatewayOrderID(ctx, entity.OrderID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			// Unknown or foreign transaction; acknowledge without state change.
			log.Debug().Str("gateway_order_id", entity.OrderID).Msg("reconciler: notification for unknown attempt, ignoring")
			return nil
		}
		return fmt.Errorf("reconciler: failed to resolve attempt: %w", err)
	}

	if a.Status.Terminal() {
		log.Debug().
			Stringer("attempt_id", a.ID).
			Stringer("status", a.Status).
			Msg("reconciler: duplicate delivery for terminal attempt, ignoring")
		return nil
	}

	switch event.Event {
	case gateway.EventPaymentFailed:
		return r.handleFailure(ctx, a, entity)
	case gateway.EventPaymentCaptured:
		return r.handleCapture(ctx, a, entity)
	default:
		log.Debug().Str("event", event.Event).Msg("reconciler: unhandled event type, ignoring")
		return nil
	}
}

func (r *Reconciler) handleFailure(ctx context.Context, a *Attempt, entity gateway.PaymentEntity) error {
	reason := entity.ErrorDescription
	if reason == "" {
		reason = "gateway failure"
	}

	applied, err := r.payments.FailAttemptAndCancelOrder(ctx, a.ID, reason)
	if err != nil {
		return fmt.Errorf("reconciler: failed to apply failure notification: %w", err)
	}
	if !applied {
		log.Debug().Stringer("attempt_id", a.ID).Msg("reconciler: failure already resolved, ignoring")
		return nil
	}

	log.Info().
		Stringer("attempt_id", a.ID).
		Stringer("order_id", a.OrderID).
		Str("reason", reason).
		Msg("reconciler: payment failed, order cancelled")

	return nil
}

func (r *Reconciler) handleCapture(ctx context.Context, a *Attempt, entity gateway.PaymentEntity) error {
	// A captured charge whose amount or currency differs from what we asked
	// for is an integrity violation, never a confirmation.
	if entity.Amount != a.Amount || entity.Currency != a.Currency {
		log.Error().
			Stringer("attempt_id", a.ID).
			Stringer("order_id", a.OrderID).
			Int64("expected_amount", a.Amount).
			Int64("notified_amount", entity.Amount).
			Str("expected_currency", a.Currency).
			Str("notified_currency", entity.Currency).
			Msg("reconciler: capture amount mismatch, refusing to confirm")

		if _, err := r.payments.FailAttemptAndCancelOrder(ctx, a.ID, "gateway amount mismatch"); err != nil {
			return fmt.Errorf("reconciler: failed to quarantine mismatched capture: %w", err)
		}
		return ErrAmountMismatch
	}

	result, err := r.payments.ConfirmCapture(ctx, a.ID, entity.ID)
	if err != nil {
		return fmt.Errorf("reconciler: failed to apply capture: %w", err)
	}

	switch result.Outcome {
	case CaptureConfirmed:
		log.Info().
			Stringer("attempt_id", a.ID).
			Stringer("order_id", result.OrderID).
			Msg("reconciler: payment captured, order confirmed")
		r.publishConfirmed(ctx, result)
	case CaptureDuplicate:
		log.Debug().Stringer("attempt_id", a.ID).Msg("reconciler: capture already applied")
	case CaptureReversedCancelled, CaptureReversedOversold:
		log.Warn().
			Stringer("attempt_id", a.ID).
			Stringer("order_id", result.OrderID).
			Str("outcome", string(result.Outcome)).
			Msg("reconciler: capture reversed, refunding at gateway")
		// Out-of-band: local state is already committed, the charge itself
		// still has to be returned. A failure here is retryable by an admin
		// since the attempt sits in REFUNDED with the gateway payment id.
		if refundErr := r.gateway.Refund(ctx, entity.ID, result.Amount); refundErr != nil {
			log.Error().Err(refundErr).
				Str("gateway_payment_id", entity.ID).
				Msg("reconciler: out-of-band refund failed")
		}
	}

	return nil
}

func (r *Reconciler) publishConfirmed(ctx context.Context, result *CaptureResult) {
	if r.publisher == nil {
		return
	}

	event := notification.OrderConfirmedEvent{
		OrderID:  result.OrderID,
		UserID:   result.UserID,
		Amount:   result.Amount,
		Currency: result.Currency,
		PaidAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("reconciler: failed to marshal order confirmed event")
		return
	}

	if err := r.publisher.Publish(ctx, notification.RoutingKeyOrderConfirmed, payload); err != nil {
		// Fire and forget; the notification collaborator is not required for
		// correctness.
		log.Warn().Err(err).Stringer("order_id", result.OrderID).Msg("reconciler: failed to publish order confirmed event")
	}
}
