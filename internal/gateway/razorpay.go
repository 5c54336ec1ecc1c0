package gateway

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog/log"
)

type razorpayGateway struct {
	client *razorpay.Client
}

// NewRazorpay returns a PaymentGateway backed by the Razorpay REST API.
func NewRazorpay(keyID, keySecret string) PaymentGateway {
	return &razorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

func (g *razorpayGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*GatewayOrder, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}

	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to create razorpay order: %w", err)
	}

	id, ok := body["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("gateway: razorpay order response missing id")
	}

	log.Debug().Str("gateway_order_id", id).Int64("amount", amount).Msg("gateway: razorpay order created")

	return &GatewayOrder{ID: id, Amount: amount, Currency: currency}, nil
}

func (g *razorpayGateway) Refund(ctx context.Context, gatewayPaymentID string, amount int64) error {
	data := map[string]interface{}{}

	_, err := g.client.Payment.Refund(gatewayPaymentID, int(amount), data, nil)
	if err != nil {
		return fmt.Errorf("gateway: failed to refund razorpay payment %s: %w", gatewayPaymentID, err)
	}

	log.Info().Str("gateway_payment_id", gatewayPaymentID).Int64("amount", amount).Msg("gateway: razorpay refund issued")

	return nil
}
