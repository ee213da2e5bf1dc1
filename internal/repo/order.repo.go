package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-core/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	CreateItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error
	// FindById returns nil, nil when the order does not exist.
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	// LockById is FindById with a row lock held until tx ends.
	LockById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error)
	// UpdateOrderStatus moves the order from -> to and reports whether a row changed.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.OrderStatus) (bool, error)
	// HasOpenOrderWithVoucher reports whether a non-cancelled order still holds
	// the voucher described by h.
	HasOpenOrderWithVoucher(ctx context.Context, tx *sql.Tx, h VoucherHold) (bool, error)
	// FindAbandonedOrders lists pending gateway orders created before a cutoff
	// that have no pending or completed payment.
	FindAbandonedOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// VoucherHold scopes the open-order check. Orders placed before IssuedAt
// belong to an earlier voucher with the same code. Gateway orders created
// before StaleBefore that never opened a payment no longer hold anything.
// Zero times disable either bound.
type VoucherHold struct {
	Code        string
	IssuedAt    time.Time
	StaleBefore time.Time
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, customer_id, status, payment_method, subtotal, shipping_fee, discount_amount, total,
	voucher_code, voucher_discount_type, voucher_discount_value,
	contact_name, contact_phone, contact_email, shipping_address, note, created_at, updated_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o            domain.Order
		voucherCode  sql.NullString
		voucherType  sql.NullString
		voucherValue decimal.NullDecimal
	)
	err := row.Scan(
		&o.ID,
		&o.CustomerID,
		&o.Status,
		&o.PaymentMethod,
		&o.Subtotal,
		&o.ShippingFee,
		&o.DiscountAmount,
		&o.Total,
		&voucherCode,
		&voucherType,
		&voucherValue,
		&o.Contact.Name,
		&o.Contact.Phone,
		&o.Contact.Email,
		&o.Contact.ShippingAddress,
		&o.Contact.Note,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if voucherCode.Valid {
		o.Voucher = &domain.VoucherSnapshot{
			Code:          voucherCode.String,
			DiscountType:  domain.DiscountType(voucherType.String),
			DiscountValue: voucherValue.Decimal,
		}
	}
	return &o, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	var (
		voucherCode  sql.NullString
		voucherType  sql.NullString
		voucherValue decimal.NullDecimal
	)
	if order.Voucher != nil {
		voucherCode = nullString(order.Voucher.Code)
		voucherType = nullString(string(order.Voucher.DiscountType))
		voucherValue = decimal.NullDecimal{Decimal: order.Voucher.DiscountValue, Valid: true}
	}

	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		order.ID, order.CustomerID, order.Status, order.PaymentMethod,
		order.Subtotal, order.ShippingFee, order.DiscountAmount, order.Total,
		voucherCode, voucherType, voucherValue,
		order.Contact.Name, order.Contact.Phone, order.Contact.Email, order.Contact.ShippingAddress, order.Contact.Note,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepo) CreateItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error {
	q := conn(r.db, tx)
	for _, it := range items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			it.ID, it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) LockById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) findOne(ctx context.Context, tx *sql.Tx, query string, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}
	return order, nil
}

func (r *orderRepo) FindItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := conn(r.db, tx).QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_name, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx,
		"UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2",
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return affected(res)
}

func (r *orderRepo) HasOpenOrderWithVoucher(ctx context.Context, tx *sql.Tx, h VoucherHold) (bool, error) {
	var exists bool
	err := conn(r.db, tx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders o
			WHERE lower(o.voucher_code) = lower($1)
			AND o.status <> $2
			AND o.created_at >= $3
			AND NOT (
				o.status = $4 AND o.payment_method = $5 AND o.created_at < $6
				AND NOT EXISTS (
					SELECT 1 FROM payments p
					WHERE p.order_id = o.id AND p.status IN ($7, $8)
				)
			)
		)`,
		h.Code, domain.OrderCancelled, h.IssuedAt,
		domain.OrderPending, domain.MethodGateway, h.StaleBefore,
		domain.PaymentPending, domain.PaymentCompleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check voucher orders: %w", err)
	}
	return exists, nil
}

func (r *orderRepo) FindAbandonedOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders o
		WHERE o.status = $1
		AND o.payment_method = $2
		AND o.created_at < $3
		AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.order_id = o.id AND p.status IN ($4, $5)
		)
		ORDER BY o.created_at
		LIMIT $6`,
		domain.OrderPending, domain.MethodGateway, before,
		domain.PaymentPending, domain.PaymentCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query abandoned orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
