package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/cart"
	"github.com/stackmart/checkout-service/internal/order"
	"github.com/stackmart/checkout-service/internal/product"
)

var (
	ErrAttemptNotFound      = errors.New("payment attempt not found")
	ErrPendingAttemptExists = errors.New("a pending payment attempt already exists for this order")
	ErrAttemptNotRefundable = errors.New("payment attempt is not refundable")
)

type Repository interface {
	// Create inserts a new PENDING attempt. The partial unique index on
	// (order_id) WHERE status = 'PENDING' turns a concurrent duplicate into
	// ErrPendingAttemptExists.
	Create(ctx context.Context, a *Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Attempt, error)
	GetPendingByOrder(ctx context.Context, orderID uuid.UUID) (*Attempt, error)
	// MarkOrderPaymentPending moves a PLACED order to PAYMENT_PENDING; any
	// other current status is left untouched.
	MarkOrderPaymentPending(ctx context.Context, orderID uuid.UUID) error
	// ConfirmCapture applies a success notification in one transaction:
	// attempt SUCCESS, order CONFIRMED/PAID, cart cleared. It re-checks
	// terminality and the order state under row locks, so replays and races
	// with the sweeper resolve to a single outcome.
	ConfirmCapture(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*CaptureResult, error)
	// FailAttemptAndCancelOrder applies a failure outcome in one transaction:
	// attempt FAILED, order CANCELLED with its reservation released. The
	// restock runs at most once per order, and a PAID order is never touched.
	// Returns false when nothing changed (attempt already terminal, or the
	// order turned out paid).
	FailAttemptAndCancelOrder(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error)
	// MarkRefunded reverses a captured attempt after the gateway refund has
	// succeeded: stock restored, attempt REFUNDED, order REFUNDED.
	MarkRefunded(ctx context.Context, attemptID uuid.UUID) error
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error)
}

type postgresRepository struct {
	db       *pgxpool.Pool
	carts    cart.Repository
	products product.Repository
}

func NewRepository(db *pgxpool.Pool, carts cart.Repository, products product.Repository) Repository {
	return &postgresRepository{db: db, carts: carts, products: products}
}

const attemptColumns = `id, order_id, user_id, amount, currency, status,
	COALESCE(gateway_order_id, ''), COALESCE(gateway_payment_id, ''), COALESCE(failure_reason, ''),
	created_at, updated_at, paid_at, refunded_at`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	err := row.Scan(
		&a.ID,
		&a.OrderID,
		&a.UserID,
		&a.Amount,
		&a.Currency,
		&a.Status,
		&a.GatewayOrderID,
		&a.GatewayPaymentID,
		&a.FailureReason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.PaidAt,
		&a.RefundedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *postgresRepository) Create(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate attempt ID: %w", err)
		}
		a.ID = id
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Status = StatusPending

	query := `
		INSERT INTO payments (id, order_id, user_id, amount, currency, status, gateway_order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.OrderID,
		a.UserID,
		a.Amount,
		a.Currency,
		string(a.Status),
		a.GatewayOrderID,
		now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrPendingAttemptExists
		}
		return fmt.Errorf("repository: failed to insert payment attempt for order %s: %w", a.OrderID, err)
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, attemptColumns)

	a, err := scanAttempt(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment attempt %s: %w", id, err)
	}

	return a, nil
}

func (r *postgresRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Attempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE gateway_order_id = $1`, attemptColumns)

	a, err := scanAttempt(r.db.QueryRow(ctx, query, gatewayOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment attempt by gateway order %s: %w", gatewayOrderID, err)
	}

	return a, nil
}

func (r *postgresRepository) GetPendingByOrder(ctx context.Context, orderID uuid.UUID) (*Attempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE order_id = $1 AND status = 'PENDING'`, attemptColumns)

	a, err := scanAttempt(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("repository: failed to select pending attempt for order %s: %w", orderID, err)
	}

	return a, nil
}

func (r *postgresRepository) MarkOrderPaymentPending(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	_, err := r.db.Exec(ctx, query, orderID, string(order.StatusPaymentPending), string(order.StatusPlaced))
	if err != nil {
		return fmt.Errorf("repository: failed to mark order %s payment pending: %w", orderID, err)
	}

	return nil
}

func (r *postgresRepository) ConfirmCapture(ctx context.Context, attemptID uuid.UUID, gatewayPaymentID string) (*CaptureResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := r.lockAttempt(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{OrderID: a.OrderID, UserID: a.UserID, Amount: a.Amount, Currency: a.Currency}

	if a.Status.Terminal() {
		result.Outcome = CaptureDuplicate
		return result, tx.Commit(ctx)
	}

	var orderStatus order.Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, a.OrderID).Scan(&orderStatus)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", a.OrderID, err)
	}

	now := time.Now().UTC()

	// The sweeper (or a user cancel) won the race: stock is already released
	// and the order is terminal, so the capture is reversed instead of
	// confirmed. The caller owes the gateway a refund call.
	if orderStatus == order.StatusCancelled {
		if err = r.markAttemptRefunded(ctx, tx, attemptID, gatewayPaymentID, now); err != nil {
			return nil, err
		}
		result.Outcome = CaptureReversedCancelled
		return result, tx.Commit(ctx)
	}

	items, err := r.orderItems(ctx, tx, a.OrderID)
	if err != nil {
		return nil, err
	}

	// Oversell guard: the reservation was taken at placement time, so every
	// reserved line must still be non-negative. A negative value means a
	// write bypassed the ledger; reverse the capture rather than confirm an
	// order that cannot be fulfilled.
	for _, item := range items {
		stock, lockErr := r.products.LockStock(ctx, tx, item.productID)
		if lockErr != nil {
			return nil, lockErr
		}
		if stock < 0 {
			log.Error().
				Stringer("order_id", a.OrderID).
				Stringer("product_id", item.productID).
				Int("stock", stock).
				Msg("repository: negative stock detected on capture, reversing")

			for _, restore := range items {
				if adjErr := r.products.AdjustStock(ctx, tx, restore.productID, restore.quantity); adjErr != nil {
					return nil, adjErr
				}
			}
			if err = r.markAttemptRefunded(ctx, tx, attemptID, gatewayPaymentID, now); err != nil {
				return nil, err
			}
			cancelQuery := `
				UPDATE orders
				SET status = $2, payment_status = $3, cancel_reason = $4, cancelled_at = $5, updated_at = $5
				WHERE id = $1
			`
			if _, err = tx.Exec(ctx, cancelQuery, a.OrderID,
				string(order.StatusCancelled), string(order.PaymentFailed), "oversold inventory detected", now); err != nil {
				return nil, fmt.Errorf("repository: failed to cancel oversold order %s: %w", a.OrderID, err)
			}

			result.Outcome = CaptureReversedOversold
			return result, tx.Commit(ctx)
		}
	}

	attemptQuery := `
		UPDATE payments
		SET status = $2, gateway_payment_id = $3, paid_at = $4, updated_at = $4
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, attemptQuery, attemptID, string(StatusSuccess), gatewayPaymentID, now); err != nil {
		return nil, fmt.Errorf("repository: failed to mark attempt %s succeeded: %w", attemptID, err)
	}

	orderQuery := `
		UPDATE orders
		SET status = $2, payment_status = $3, paid_at = $4, updated_at = $4
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, orderQuery, a.OrderID,
		string(order.StatusConfirmed), string(order.PaymentPaid), now); err != nil {
		return nil, fmt.Errorf("repository: failed to confirm order %s: %w", a.OrderID, err)
	}

	if err = r.carts.Clear(ctx, tx, a.UserID); err != nil {
		return nil, err
	}

	result.Outcome = CaptureConfirmed
	return result, tx.Commit(ctx)
}

func (r *postgresRepository) FailAttemptAndCancelOrder(ctx context.Context, attemptID uuid.UUID, reason string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := r.lockAttempt(ctx, tx, attemptID)
	if err != nil {
		return false, err
	}
	if a.Status.Terminal() {
		return false, tx.Commit(ctx)
	}

	var orderStatus order.Status
	var orderPaymentStatus order.PaymentStatus
	err = tx.QueryRow(ctx, `SELECT status, payment_status FROM orders WHERE id = $1 FOR UPDATE`, a.OrderID).
		Scan(&orderStatus, &orderPaymentStatus)
	if err != nil {
		return false, fmt.Errorf("repository: failed to lock order %s: %w", a.OrderID, err)
	}

	// A success arrived for this order through another path; never override.
	if orderPaymentStatus == order.PaymentPaid {
		return false, tx.Commit(ctx)
	}

	now := time.Now().UTC()

	attemptQuery := `
		UPDATE payments
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, attemptQuery, attemptID, string(StatusFailed), reason, now); err != nil {
		return false, fmt.Errorf("repository: failed to mark attempt %s failed: %w", attemptID, err)
	}

	// Already cancelled means the reservation was already released; failing
	// the attempt above is all that is left to do.
	if orderStatus == order.StatusCancelled {
		return true, tx.Commit(ctx)
	}

	restockQuery := `
		UPDATE products p
		SET stock = p.stock + oi.quantity, updated_at = $2
		FROM order_items oi
		WHERE oi.order_id = $1 AND p.id = oi.product_id
	`
	if _, err = tx.Exec(ctx, restockQuery, a.OrderID, now); err != nil {
		return false, fmt.Errorf("repository: failed to restore stock for order %s: %w", a.OrderID, err)
	}

	cancelQuery := `
		UPDATE orders
		SET status = $2, payment_status = $3, cancel_reason = $4, cancelled_at = $5, updated_at = $5
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, cancelQuery, a.OrderID,
		string(order.StatusCancelled), string(order.PaymentFailed), reason, now); err != nil {
		return false, fmt.Errorf("repository: failed to cancel order %s: %w", a.OrderID, err)
	}

	return true, tx.Commit(ctx)
}

func (r *postgresRepository) MarkRefunded(ctx context.Context, attemptID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := r.lockAttempt(ctx, tx, attemptID)
	if err != nil {
		return err
	}
	if a.Status == StatusRefunded {
		// Retried refund after a crash between gateway call and commit.
		return tx.Commit(ctx)
	}
	if a.Status != StatusSuccess {
		return ErrAttemptNotRefundable
	}

	now := time.Now().UTC()

	restockQuery := `
		UPDATE products p
		SET stock = p.stock + oi.quantity, updated_at = $2
		FROM order_items oi
		WHERE oi.order_id = $1 AND p.id = oi.product_id
	`
	if _, err = tx.Exec(ctx, restockQuery, a.OrderID, now); err != nil {
		return fmt.Errorf("repository: failed to restore stock for order %s: %w", a.OrderID, err)
	}

	attemptQuery := `
		UPDATE payments
		SET status = $2, refunded_at = $3, updated_at = $3
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, attemptQuery, attemptID, string(StatusRefunded), now); err != nil {
		return fmt.Errorf("repository: failed to mark attempt %s refunded: %w", attemptID, err)
	}

	orderQuery := `
		UPDATE orders
		SET status = $2, payment_status = $3, refunded_at = $4, updated_at = $4
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, orderQuery, a.OrderID,
		string(order.StatusRefunded), string(order.PaymentRefunded), now); err != nil {
		return fmt.Errorf("repository: failed to mark order %s refunded: %w", a.OrderID, err)
	}

	return tx.Commit(ctx)
}

func (r *postgresRepository) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM payments
		WHERE status = 'PENDING' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2
	`, attemptColumns)

	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stuck attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0)
	for rows.Next() {
		a, scanErr := scanAttempt(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("repository: failed to scan stuck attempt: %w", scanErr)
		}
		attempts = append(attempts, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stuck attempts: %w", err)
	}

	return attempts, nil
}

func (r *postgresRepository) lockAttempt(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) (*Attempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 FOR UPDATE`, attemptColumns)

	a, err := scanAttempt(tx.QueryRow(ctx, query, attemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock payment attempt %s: %w", attemptID, err)
	}

	return a, nil
}

// markAttemptRefunded records the reversal on the attempt. The reason for the
// reversal lives on the order's cancel_reason; failure_reason stays reserved
// for FAILED attempts.
func (r *postgresRepository) markAttemptRefunded(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, gatewayPaymentID string, now time.Time) error {
	query := `
		UPDATE payments
		SET status = $2, gateway_payment_id = $3, refunded_at = $4, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, attemptID, string(StatusRefunded), gatewayPaymentID, now); err != nil {
		return fmt.Errorf("repository: failed to mark attempt %s refunded: %w", attemptID, err)
	}

	return nil
}

type orderItemRef struct {
	productID uuid.UUID
	quantity  int
}

func (r *postgresRepository) orderItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]orderItemRef, error) {
	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]orderItemRef, 0)
	for rows.Next() {
		var item orderItemRef
		if err := rows.Scan(&item.productID, &item.quantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating items for order %s: %w", orderID, err)
	}

	return items, nil
}
