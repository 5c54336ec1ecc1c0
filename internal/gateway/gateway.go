package gateway

import "context"

// GatewayOrder is the provider-side payment intent created for one attempt.
type GatewayOrder struct {
	ID       string
	Amount   int64 // minor units
	Currency string
}

// PaymentGateway is the opaque boundary to the external payment provider.
// Implementations must be safe for concurrent use; callers never invoke these
// methods while holding a database transaction.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*GatewayOrder, error)
	Refund(ctx context.Context, gatewayPaymentID string, amount int64) error
}
