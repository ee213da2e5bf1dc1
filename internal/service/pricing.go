package service

import (
	"context"
	"database/sql"
	"math"

	"checkout-core/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog is the product lookup the pricing step reads from. A nil tx reads
// outside any transaction.
type Catalog interface {
	GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Product, error)
}

type ItemInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// maxQuantity bounds a line's quantity to what the order_items column holds.
const maxQuantity = math.MaxInt32

type PricedItems struct {
	Lines    []domain.OrderItem
	Subtotal decimal.Decimal
}

type PricingValidator struct {
	catalog Catalog
}

func NewPricingValidator(catalog Catalog) *PricingValidator {
	return &PricingValidator{catalog: catalog}
}

// Price reads every product inside tx and returns lines carrying the catalog
// price. Repeated products are merged into a single line so the stock check
// sees the whole requested quantity. Stock is checked, not reserved.
func (p *PricingValidator) Price(ctx context.Context, tx *sql.Tx, items []ItemInput) (*PricedItems, error) {
	if len(items) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	var order []uuid.UUID
	quantities := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > maxQuantity || it.ProductID == uuid.Nil {
			return nil, domain.ErrInvalidRequest
		}
		seenQty, seen := quantities[it.ProductID]
		if !seen {
			order = append(order, it.ProductID)
		}
		if it.Quantity > maxQuantity-seenQty {
			return nil, domain.ErrInvalidRequest
		}
		quantities[it.ProductID] = seenQty + it.Quantity
	}

	priced := &PricedItems{Subtotal: decimal.Zero}
	for _, id := range order {
		product, err := p.catalog.GetProduct(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if product == nil || !product.IsActive {
			return nil, domain.ErrInvalidProduct
		}

		qty := quantities[id]
		if product.StockQuantity.Valid && product.StockQuantity.Int64 < int64(qty) {
			return nil, domain.ErrInsufficientStock
		}

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
		priced.Lines = append(priced.Lines, domain.OrderItem{
			ID:          uuid.New(),
			ProductID:   id,
			ProductName: product.Name,
			Quantity:    qty,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
		priced.Subtotal = priced.Subtotal.Add(lineTotal)
	}

	return priced, nil
}
