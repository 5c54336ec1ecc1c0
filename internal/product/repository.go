package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stackmart/checkout-service/internal/db"
)

var ErrProductNotFound = errors.New("product not found")

// Repository is the stock ledger. Every method takes a db.Querier so callers
// can run it against the pool or inside their own transaction; placement,
// refund and the sweeper all mutate stock through these helpers and nothing
// else.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Product, error)
	// DecrementStock subtracts quantity only if the product is active and has
	// sufficient stock. Returns false without error when the condition fails.
	DecrementStock(ctx context.Context, q db.Querier, id uuid.UUID, quantity int) (bool, error)
	AdjustStock(ctx context.Context, q db.Querier, id uuid.UUID, delta int) error
	// LockStock reads the current stock with a row lock held for the rest of
	// the caller's transaction.
	LockStock(ctx context.Context, q db.Querier, id uuid.UUID) (int, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, price, stock, is_active, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.Stock,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

func (r *postgresRepository) DecrementStock(ctx context.Context, q db.Querier, id uuid.UUID, quantity int) (bool, error) {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND stock >= $2
	`

	tag, err := q.Exec(ctx, query, id, quantity)
	if err != nil {
		return false, fmt.Errorf("repository: failed to decrement stock for product %s: %w", id, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) AdjustStock(ctx context.Context, q db.Querier, id uuid.UUID, delta int) error {
	query := `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := q.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("repository: failed to adjust stock for product %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	return nil
}

func (r *postgresRepository) LockStock(ctx context.Context, q db.Querier, id uuid.UUID) (int, error) {
	query := `
		SELECT stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`

	var stock int
	err := q.QueryRow(ctx, query, id).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("repository: failed to lock stock for product %s: %w", id, err)
	}

	return stock, nil
}
