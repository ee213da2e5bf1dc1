package domain

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog view the pricing step needs. StockQuantity is NULL
// when the product does not track stock.
type Product struct {
	ID            uuid.UUID
	Name          string
	Price         decimal.Decimal
	IsActive      bool
	StockQuantity sql.NullInt64
}
