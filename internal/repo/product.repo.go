package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-core/internal/domain"

	"github.com/google/uuid"
)

// ProductRepo is the read side of the catalog. Catalog management lives in
// another service; Upsert exists for seeding.
type ProductRepo interface {
	// GetProduct returns nil, nil when the product does not exist.
	GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Product, error)
	Upsert(ctx context.Context, tx *sql.Tx, p *domain.Product) error
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := conn(r.db, tx).QueryRowContext(ctx,
		"SELECT id, name, price, is_active, stock_quantity FROM products WHERE id = $1", id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.IsActive, &p.StockQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

func (r *productRepo) Upsert(ctx context.Context, tx *sql.Tx, p *domain.Product) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO products (id, name, price, is_active, stock_quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    is_active = EXCLUDED.is_active,
		    stock_quantity = EXCLUDED.stock_quantity,
		    updated_at = now()`,
		p.ID, p.Name, p.Price, p.IsActive, p.StockQuantity,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
