package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPlaced         Status = "PLACED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturnApproved Status = "RETURN_APPROVED"
	StatusRefunded       Status = "REFUNDED"
)

func (s Status) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

// allowedTransitions is the order state machine. CANCELLED and REFUNDED are
// terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPlaced: {
		StatusPaymentPending: true,
		StatusCancelled:      true,
	},
	StatusPaymentPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusCancelled:      true,
		StatusReturnApproved: true,
		StatusRefunded:       true,
	},
	StatusReturnApproved: {
		StatusRefunded: true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// CanTransition reports whether the state machine allows moving from one
// order status to another.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Address is the shipping destination snapshot embedded in the order. It has
// no relation to a mutable address book entry.
type Address struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Pincode string `json:"pincode" validate:"required"`
	Country string `json:"country"`
}

// Item is an immutable line-item snapshot taken at order-creation time.
type Item struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	UnitPrice int64     `json:"unit_price" db:"unit_price"` // minor units
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Order struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	UserID        uuid.UUID     `json:"user_id" db:"user_id"`
	Status        Status        `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	Items         []Item        `json:"items" db:"-"`
	TotalAmount   int64         `json:"total_amount" db:"total_amount"` // minor units
	Currency      string        `json:"currency" db:"currency"`
	Address       Address       `json:"address" db:"address"`
	CancelReason  string        `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
	PaidAt        *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
}
