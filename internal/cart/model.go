package cart

import (
	"time"

	"github.com/gofrs/uuid"
)

// Line is one cart row joined with the product it references. Name, price,
// stock and the active flag reflect the catalog at read time; the order
// placement transaction is what turns them into immutable snapshots.
type Line struct {
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Price     int64     `json:"price" db:"price"`
	Stock     int       `json:"stock" db:"stock"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
