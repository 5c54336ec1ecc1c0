package cart

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/stackmart/checkout-service/internal/db"
)

// Repository exposes the two cart operations the consistency engine consumes.
// Methods take a db.Querier so order placement can read and clear the cart
// inside its own transaction.
type Repository interface {
	GetLines(ctx context.Context, q db.Querier, userID uuid.UUID) ([]Line, error)
	Clear(ctx context.Context, q db.Querier, userID uuid.UUID) error
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) GetLines(ctx context.Context, q db.Querier, userID uuid.UUID) ([]Line, error) {
	// Locks the joined product rows so stock checks stay valid for the rest
	// of the caller's transaction.
	query := `
		SELECT ci.product_id, p.name, p.price, p.stock, p.is_active, ci.quantity, ci.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.created_at
		FOR UPDATE OF p
	`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart for user %s: %w", userID, err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var line Line
		err := rows.Scan(
			&line.ProductID,
			&line.Name,
			&line.Price,
			&line.Stock,
			&line.IsActive,
			&line.Quantity,
			&line.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart line for user %s: %w", userID, err)
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart lines for user %s: %w", userID, err)
	}

	return lines, nil
}

func (r *postgresRepository) Clear(ctx context.Context, q db.Querier, userID uuid.UUID) error {
	// Clearing an already-empty cart is a no-op, which keeps webhook replays
	// harmless.
	_, err := q.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}

	return nil
}
