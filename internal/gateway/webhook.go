package gateway

import (
	"encoding/json"
	"fmt"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the subset of the Razorpay webhook envelope the
// reconciliation engine consumes.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type PaymentEntity struct {
	ID               string `json:"id"`       // gateway payment id
	OrderID          string `json:"order_id"` // gateway order id, our correlation key
	Amount           int64  `json:"amount"`   // minor units
	Currency         string `json:"currency"`
	ErrorDescription string `json:"error_description"`
}

func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse webhook payload: %w", err)
	}

	return &event, nil
}
