package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmart/checkout-service/internal/payment"
)

const testWebhookSecret = "whsec_test_secret"

type mockPublisher struct {
	publishFunc func(ctx context.Context, routingKey string, body []byte) error
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	return m.publishFunc(ctx, routingKey, body)
}

func (m *mockPublisher) Close() error { return nil }

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, event, paymentID, gatewayOrderID string, amount int64, currency string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": gatewayOrderID,
					"amount":   amount,
					"currency": currency,
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func pendingAttempt(t *testing.T) *payment.Attempt {
	t.Helper()
	return &payment.Attempt{
		ID:             mustUUID(t),
		OrderID:        mustUUID(t),
		UserID:         mustUUID(t),
		Amount:         2000,
		Currency:       "INR",
		Status:         payment.StatusPending,
		GatewayOrderID: "order_gw1",
	}
}

func TestReconciler_HandleNotification_Signature(t *testing.T) {
	payments := &mockPaymentRepository{
		getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
			t.Fatal("repository must not be touched for a forged notification")
			return nil, nil
		},
	}
	r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

	body := webhookBody(t, "payment.captured", "pay_1", "order_gw1", 2000, "INR")

	err := r.HandleNotification(context.Background(), body, sign(body, "wrong-secret"))
	assert.True(t, errors.Is(err, payment.ErrInvalidSignature))

	// Tampering with a validly signed body must also fail.
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] ^= 0x01
	err = r.HandleNotification(context.Background(), tampered, sign(body, testWebhookSecret))
	assert.True(t, errors.Is(err, payment.ErrInvalidSignature))
}

func TestReconciler_HandleNotification_Acks(t *testing.T) {
	t.Run("unknown_gateway_order", func(t *testing.T) {
		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				return nil, payment.ErrAttemptNotFound
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

		body := webhookBody(t, "payment.captured", "pay_1", "order_unknown", 2000, "INR")
		assert.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
	})

	t.Run("terminal_attempt_replay", func(t *testing.T) {
		a := pendingAttempt(t)
		a.Status = payment.StatusSuccess
		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				return a, nil
			},
			confirmCaptureFunc: func(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*payment.CaptureResult, error) {
				t.Fatal("no state change may run for a terminal attempt")
				return nil, nil
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

		body := webhookBody(t, "payment.captured", "pay_1", a.GatewayOrderID, 2000, "INR")
		assert.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
	})

	t.Run("missing_payment_entity", func(t *testing.T) {
		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				t.Fatal("lookup must not run without an order reference")
				return nil, nil
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

		body := []byte(`{"event":"refund.created","payload":{}}`)
		assert.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
	})

	t.Run("unhandled_event_type", func(t *testing.T) {
		a := pendingAttempt(t)
		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				return a, nil
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

		body := webhookBody(t, "payment.authorized", "pay_1", a.GatewayOrderID, 2000, "INR")
		assert.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
	})
}

func TestReconciler_HandleNotification_Capture(t *testing.T) {
	t.Run("confirms_and_publishes", func(t *testing.T) {
		a := pendingAttempt(t)
		published := false

		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				assert.Equal(t, a.GatewayOrderID, gatewayOrderID)
				return a, nil
			},
			confirmCaptureFunc: func(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*payment.CaptureResult, error) {
				assert.Equal(t, a.ID, attemptID)
				assert.Equal(t, "pay_1", gatewayPaymentID)
				return &payment.CaptureResult{
					Outcome:  payment.CaptureConfirmed,
					OrderID:  a.OrderID,
					UserID:   a.UserID,
					Amount:   a.Amount,
					Currency: a.Currency,
				}, nil
			},
		}
		publisher := &mockPublisher{
			publishFunc: func(ctx context.Context, routingKey string, body []byte) error {
				assert.Equal(t, "order.confirmed", routingKey)
				assert.Contains(t, string(body), a.OrderID.String())
				published = true
				return nil
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, publisher, testWebhookSecret)

		body := webhookBody(t, "payment.captured", "pay_1", a.GatewayOrderID, a.Amount, a.Currency)
		require.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
		assert.True(t, published)
	})

	t.Run("amount_mismatch_never_confirms", func(t *testing.T) {
		a := pendingAttempt(t)
		var failedReason string

		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				return a, nil
			},
			confirmCaptureFunc: func(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*payment.CaptureResult, error) {
				t.Fatal("a mismatched capture must never be confirmed")
				return nil, nil
			},
			failAttemptAndCancelOrderFunc: func(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
				failedReason = reason
				return true, nil
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

		body := webhookBody(t, "payment.captured", "pay_1", a.GatewayOrderID, a.Amount+500, a.Currency)
		err := r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret))
		assert.True(t, errors.Is(err, payment.ErrAmountMismatch))
		assert.Equal(t, "gateway amount mismatch", failedReason)
	})

	t.Run("currency_mismatch_never_confirms", func(t *testing.T) {
		a := pendingAttempt(t)
		payments := &mockPaymentRepository{
			getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
				return a, nil
			},
			confirmCaptureFunc: func(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*payment.CaptureResult, error) {
				t.Fatal("a mismatched capture must never be confirmed")
				return nil, nil
			},
			failAttemptAndCancelOrderFunc: func(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
				return true, nil
			},
		}
		r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

		body := webhookBody(t, "payment.captured", "pay_1", a.GatewayOrderID, a.Amount, "USD")
		err := r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret))
		assert.True(t, errors.Is(err, payment.ErrAmountMismatch))
	})

	t.Run("reversed_capture_refunds_at_gateway", func(t *testing.T) {
		for _, outcome := range []payment.CaptureOutcome{payment.CaptureReversedCancelled, payment.CaptureReversedOversold} {
			a := pendingAttempt(t)
			refunded := false

			payments := &mockPaymentRepository{
				getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
					return a, nil
				},
				confirmCaptureFunc: func(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*payment.CaptureResult, error) {
					return &payment.CaptureResult{
						Outcome:  outcome,
						OrderID:  a.OrderID,
						UserID:   a.UserID,
						Amount:   a.Amount,
						Currency: a.Currency,
					}, nil
				},
			}
			gw := &mockGateway{
				refundFunc: func(ctx context.Context, gatewayPaymentID string, amount int64) error {
					assert.Equal(t, "pay_1", gatewayPaymentID)
					assert.Equal(t, a.Amount, amount)
					refunded = true
					return nil
				},
			}
			publisher := &mockPublisher{
				publishFunc: func(ctx context.Context, routingKey string, body []byte) error {
					t.Fatalf("no confirmation event may be published for outcome %s", outcome)
					return nil
				},
			}
			r := payment.NewReconciler(payments, gw, publisher, testWebhookSecret)

			body := webhookBody(t, "payment.captured", "pay_1", a.GatewayOrderID, a.Amount, a.Currency)
			require.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
			assert.True(t, refunded, "outcome %s", outcome)
		}
	})
}

func TestReconciler_HandleNotification_Failure(t *testing.T) {
	a := pendingAttempt(t)
	var failedID uuid.UUID
	var failedReason string

	payments := &mockPaymentRepository{
		getByGatewayOrderIDFunc: func(ctx context.Context, gatewayOrderID string) (*payment.Attempt, error) {
			return a, nil
		},
		failAttemptAndCancelOrderFunc: func(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
			failedID = attemptID
			failedReason = reason
			return true, nil
		},
	}
	r := payment.NewReconciler(payments, &mockGateway{}, nil, testWebhookSecret)

	body, err := json.Marshal(map[string]any{
		"event": "payment.failed",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":                "pay_1",
					"order_id":          a.GatewayOrderID,
					"amount":            a.Amount,
					"currency":          a.Currency,
					"error_description": "card declined",
				},
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, r.HandleNotification(context.Background(), body, sign(body, testWebhookSecret)))
	assert.Equal(t, a.ID, failedID)
	assert.Equal(t, "card declined", failedReason)
}

func TestSweeper_Sweep(t *testing.T) {
	t.Run("fails_stuck_attempts", func(t *testing.T) {
		stuck := []payment.Attempt{*pendingAttempt(t), *pendingAttempt(t), *pendingAttempt(t)}
		var failed []uuid.UUID

		payments := &mockPaymentRepository{
			listStuckPendingFunc: func(ctx context.Context, olderThan time.Time, limit int) ([]payment.Attempt, error) {
				assert.True(t, olderThan.Before(time.Now()))
				assert.Equal(t, 100, limit)
				return stuck, nil
			},
			failAttemptAndCancelOrderFunc: func(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
				assert.Equal(t, "payment timeout", reason)
				failed = append(failed, attemptID)
				return true, nil
			},
		}
		s := payment.NewSweeper(payments, time.Minute, 30*time.Minute)

		swept, err := s.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, swept)
		assert.Len(t, failed, 3)
	})

	t.Run("continues_past_individual_failures", func(t *testing.T) {
		stuck := []payment.Attempt{*pendingAttempt(t), *pendingAttempt(t), *pendingAttempt(t)}
		calls := 0

		payments := &mockPaymentRepository{
			listStuckPendingFunc: func(ctx context.Context, olderThan time.Time, limit int) ([]payment.Attempt, error) {
				return stuck, nil
			},
			failAttemptAndCancelOrderFunc: func(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
				calls++
				if calls == 2 {
					return false, fmt.Errorf("deadlock detected")
				}
				return true, nil
			},
		}
		s := payment.NewSweeper(payments, time.Minute, 30*time.Minute)

		swept, err := s.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, swept)
	})

	t.Run("already_resolved_attempts_not_counted", func(t *testing.T) {
		stuck := []payment.Attempt{*pendingAttempt(t), *pendingAttempt(t), *pendingAttempt(t)}
		calls := 0

		payments := &mockPaymentRepository{
			listStuckPendingFunc: func(ctx context.Context, olderThan time.Time, limit int) ([]payment.Attempt, error) {
				return stuck, nil
			},
			failAttemptAndCancelOrderFunc: func(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
				calls++
				// The second attempt's order turned out paid; nothing applied.
				return calls != 2, nil
			},
		}
		s := payment.NewSweeper(payments, time.Minute, 30*time.Minute)

		swept, err := s.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, swept)
	})

	t.Run("list_error_propagates", func(t *testing.T) {
		payments := &mockPaymentRepository{
			listStuckPendingFunc: func(ctx context.Context, olderThan time.Time, limit int) ([]payment.Attempt, error) {
				return nil, fmt.Errorf("connection reset")
			},
		}
		s := payment.NewSweeper(payments, time.Minute, 30*time.Minute)

		_, err := s.Sweep(context.Background())
		assert.Error(t, err)
	})

	t.Run("nothing_to_sweep", func(t *testing.T) {
		payments := &mockPaymentRepository{
			listStuckPendingFunc: func(ctx context.Context, olderThan time.Time, limit int) ([]payment.Attempt, error) {
				return nil, nil
			},
		}
		s := payment.NewSweeper(payments, time.Minute, 30*time.Minute)

		swept, err := s.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, swept)
	})
}
