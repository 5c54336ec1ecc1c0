package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/cart"
	"github.com/stackmart/checkout-service/internal/product"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

type Repository interface {
	// PlaceOrder reserves stock for every cart line, snapshots the cart into
	// a new PLACED order and clears the cart, all in one transaction.
	PlaceOrder(ctx context.Context, userID uuid.UUID, address Address) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// CancelAndRestoreStock moves the order to CANCELLED, returns its reserved
	// stock to the ledger and fails any pending payment attempt. A second call
	// on an already-cancelled order is a no-op.
	CancelAndRestoreStock(ctx context.Context, orderID uuid.UUID, reason string) error
}

type postgresRepository struct {
	db       *pgxpool.Pool
	carts    cart.Repository
	products product.Repository
}

func NewRepository(db *pgxpool.Pool, carts cart.Repository, products product.Repository) Repository {
	return &postgresRepository{db: db, carts: carts, products: products}
}

func (r *postgresRepository) PlaceOrder(ctx context.Context, userID uuid.UUID, address Address) (o *Order, err error) {
	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate order ID: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
				o = nil
			}
		}
	}()

	lines, err := r.carts.GetLines(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now().UTC()
	items := make([]Item, 0, len(lines))
	var totalAmount int64

	for _, line := range lines {
		if !line.IsActive {
			return nil, fmt.Errorf("%w: product %s", ErrProductUnavailable, line.ProductID)
		}
		if line.Stock < line.Quantity {
			return nil, fmt.Errorf("%w: product %s", ErrInsufficientStock, line.ProductID)
		}

		ok, decErr := r.products.DecrementStock(ctx, tx, line.ProductID, line.Quantity)
		if decErr != nil {
			return nil, decErr
		}
		if !ok {
			// The row was locked by GetLines, so this only fires if the
			// product was deactivated in between reads.
			return nil, fmt.Errorf("%w: product %s", ErrProductUnavailable, line.ProductID)
		}

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return nil, fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}

		items = append(items, Item{
			ID:        itemID,
			OrderID:   orderID,
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.Price,
			Quantity:  line.Quantity,
			CreatedAt: now,
		})
		totalAmount += line.Price * int64(line.Quantity)
	}

	queryOrder := `
		INSERT INTO orders (id, user_id, status, payment_status, total_amount, currency, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err = tx.Exec(ctx, queryOrder,
		orderID,
		userID,
		string(StatusPlaced),
		string(PaymentPending),
		totalAmount,
		defaultCurrency,
		address,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, name, unit_price, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, item := range items {
		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.UnitPrice,
			item.Quantity,
			item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to insert order item for order %s: %w", orderID, err)
		}
	}

	if err = r.carts.Clear(ctx, tx, userID); err != nil {
		return nil, err
	}

	return &Order{
		ID:            orderID,
		UserID:        userID,
		Status:        StatusPlaced,
		PaymentStatus: PaymentPending,
		Items:         items,
		TotalAmount:   totalAmount,
		Currency:      defaultCurrency,
		Address:       address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

const defaultCurrency = "INR"

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `
		SELECT id, user_id, status, payment_status, total_amount, currency, address,
		       COALESCE(cancel_reason, ''), created_at, updated_at, paid_at, cancelled_at, refunded_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := r.db.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&o.Currency,
		&o.Address,
		&o.CancelReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.PaidAt,
		&o.CancelledAt,
		&o.RefundedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *postgresRepository) getItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	query := `
		SELECT id, order_id, product_id, name, unit_price, quantity, created_at
		FROM order_items
		WHERE order_id = $1
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.UnitPrice,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order %s: %w", orderID, err)
	}

	return items, nil
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `
		SELECT id, user_id, status, payment_status, total_amount, currency, address,
		       COALESCE(cancel_reason, ''), created_at, updated_at, paid_at, cancelled_at, refunded_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.Status,
			&o.PaymentStatus,
			&o.TotalAmount,
			&o.Currency,
			&o.Address,
			&o.CancelReason,
			&o.CreatedAt,
			&o.UpdatedAt,
			&o.PaidAt,
			&o.CancelledAt,
			&o.RefundedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user %s: %w", userID, err)
		}
		o.Items = make([]Item, 0)
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user %s: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	itemsQuery := `
		SELECT id, order_id, product_id, name, unit_price, quantity, created_at
		FROM order_items
		WHERE order_id = ANY($1)
	`
	itemRows, err := r.db.Query(ctx, itemsQuery, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for user %s: %w", userID, err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item Item
		err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.UnitPrice,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for user %s: %w", userID, err)
		}
		if o, ok := ordersMap[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err = itemRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for user %s: %w", userID, err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if o, ok := ordersMap[id]; ok {
			result = append(result, *o)
		}
	}

	return result, nil
}

func (r *postgresRepository) CancelAndRestoreStock(ctx context.Context, orderID uuid.UUID, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status Status
	var userID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT status, user_id FROM orders WHERE id = $1 FOR UPDATE`, orderID).
		Scan(&status, &userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to lock order %s: %w", orderID, err)
	}

	// Restock happens exactly once per order; the status check is what keeps
	// overlapping cancellations from releasing the reservation twice.
	if status == StatusCancelled {
		return tx.Commit(ctx)
	}

	restockQuery := `
		UPDATE products p
		SET stock = p.stock + oi.quantity, updated_at = NOW()
		FROM order_items oi
		WHERE oi.order_id = $1 AND p.id = oi.product_id
	`
	if _, err = tx.Exec(ctx, restockQuery, orderID); err != nil {
		return fmt.Errorf("repository: failed to restore stock for order %s: %w", orderID, err)
	}

	cancelQuery := `
		UPDATE orders
		SET status = $2, payment_status = $3, cancel_reason = $4, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, cancelQuery, orderID, string(StatusCancelled), string(PaymentFailed), reason); err != nil {
		return fmt.Errorf("repository: failed to cancel order %s: %w", orderID, err)
	}

	failAttemptsQuery := `
		UPDATE payments
		SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = 'PENDING'
	`
	if _, err = tx.Exec(ctx, failAttemptsQuery, orderID, reason); err != nil {
		return fmt.Errorf("repository: failed to fail pending attempts for order %s: %w", orderID, err)
	}

	return tx.Commit(ctx)
}
