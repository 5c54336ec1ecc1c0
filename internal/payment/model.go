package payment

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the attempt can never be re-evaluated. Notification
// replays against a terminal attempt are acknowledged without effect.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRefunded
}

// Attempt is one try at charging for an order. Attempts are created PENDING,
// move exactly once to a terminal status and are never deleted.
type Attempt struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	OrderID          uuid.UUID  `json:"order_id" db:"order_id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	Amount           int64      `json:"amount" db:"amount"` // minor units, copied from the order
	Currency         string     `json:"currency" db:"currency"`
	Status           Status     `json:"status" db:"status"`
	GatewayOrderID   string     `json:"gateway_order_id" db:"gateway_order_id"`
	GatewayPaymentID string     `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	FailureReason    string     `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty" db:"refunded_at"`
}

// CaptureOutcome describes what ConfirmCapture actually did.
type CaptureOutcome string

const (
	// CaptureConfirmed: the attempt succeeded and the order is confirmed.
	CaptureConfirmed CaptureOutcome = "confirmed"
	// CaptureDuplicate: the attempt was already terminal; nothing was applied.
	CaptureDuplicate CaptureOutcome = "duplicate"
	// CaptureReversedCancelled: the order was cancelled (stock already
	// released) before the capture arrived; the capture was reversed locally
	// and the caller must refund the charge at the gateway.
	CaptureReversedCancelled CaptureOutcome = "reversed_cancelled"
	// CaptureReversedOversold: a reserved line had negative stock, meaning a
	// write bypassed the ledger; the capture was reversed locally and the
	// caller must refund the charge at the gateway.
	CaptureReversedOversold CaptureOutcome = "reversed_oversold"
)

type CaptureResult struct {
	Outcome  CaptureOutcome
	OrderID  uuid.UUID
	UserID   uuid.UUID
	Amount   int64
	Currency string
}
