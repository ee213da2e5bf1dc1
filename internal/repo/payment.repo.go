package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-core/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentRepo interface {
	// A nil tx runs the statement straight on the pool.
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	// FindById returns nil, nil when the payment does not exist.
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	// FindActiveByOrder returns the pending or completed payment for order and method.
	FindActiveByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Payment, error)
	FindLatestByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error)
	HasCompleted(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (bool, error)
	// FindByReference looks ref up against both the stored transaction ref and product code.
	FindByReference(ctx context.Context, tx *sql.Tx, ref string) (*domain.Payment, error)
	FindByProductCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Payment, error)
	FindLatestPendingByAmount(ctx context.Context, tx *sql.Tx, amount decimal.Decimal) (*domain.Payment, error)
	AttachGatewaySession(ctx context.Context, tx *sql.Tx, id uuid.UUID, productCode, paymentURL string) error
	// UpdatePaymentStatus is a compare-and-set on status; it reports whether the row moved.
	UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, update StatusUpdate) (bool, error)
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

// StatusUpdate moves payment ID from From to To. Empty TransactionRef and nil
// RawCallback leave the stored values untouched.
type StatusUpdate struct {
	ID             uuid.UUID
	From           domain.PaymentStatus
	To             domain.PaymentStatus
	TransactionRef string
	RawCallback    json.RawMessage
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, order_id, method, amount, status, gateway_transaction_ref, gateway_product_code,
	payment_url, raw_callback, created_at, updated_at`

func scanPayment(row scanner) (*domain.Payment, error) {
	var (
		p           domain.Payment
		txnRef      sql.NullString
		productCode sql.NullString
		paymentURL  sql.NullString
		raw         []byte
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Method,
		&p.Amount,
		&p.Status,
		&txnRef,
		&productCode,
		&paymentURL,
		&raw,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.GatewayTransactionRef = txnRef.String
	p.GatewayProductCode = productCode.String
	p.PaymentURL = paymentURL.String
	if len(raw) > 0 {
		p.RawCallback = json.RawMessage(raw)
	}
	return &p, nil
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO payments (id, order_id, method, amount, status, gateway_transaction_ref, gateway_product_code, payment_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payment.ID, payment.OrderID, payment.Method, payment.Amount, payment.Status,
		nullString(payment.GatewayTransactionRef), nullString(payment.GatewayProductCode), nullString(payment.PaymentURL),
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) findOne(ctx context.Context, tx *sql.Tx, where string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(conn(r.db, tx).QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	return r.findOne(ctx, tx, "WHERE id = $1", id)
}

func (r *paymentRepo) FindActiveByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Payment, error) {
	return r.findOne(ctx, tx, `
		WHERE order_id = $1 AND method = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1`,
		orderID, method, domain.PaymentPending, domain.PaymentCompleted,
	)
}

func (r *paymentRepo) FindLatestByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error) {
	return r.findOne(ctx, tx, "WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
}

func (r *paymentRepo) HasCompleted(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(r.db, tx).QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = $2)",
		orderID, domain.PaymentCompleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed payments: %w", err)
	}
	return exists, nil
}

func (r *paymentRepo) FindByReference(ctx context.Context, tx *sql.Tx, ref string) (*domain.Payment, error) {
	return r.findOne(ctx, tx, `
		WHERE gateway_transaction_ref = $1 OR gateway_product_code = $1
		ORDER BY created_at DESC
		LIMIT 1`, ref)
}

func (r *paymentRepo) FindByProductCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Payment, error) {
	return r.findOne(ctx, tx, `
		WHERE gateway_product_code = $1
		ORDER BY created_at DESC
		LIMIT 1`, code)
}

func (r *paymentRepo) FindLatestPendingByAmount(ctx context.Context, tx *sql.Tx, amount decimal.Decimal) (*domain.Payment, error) {
	return r.findOne(ctx, tx, `
		WHERE method = $1 AND status = $2 AND amount = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		domain.MethodGateway, domain.PaymentPending, amount,
	)
}

func (r *paymentRepo) AttachGatewaySession(ctx context.Context, tx *sql.Tx, id uuid.UUID, productCode, paymentURL string) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `
		UPDATE payments
		SET gateway_product_code = $2,
		    payment_url = $3,
		    updated_at = now()
		WHERE id = $1`,
		id, productCode, paymentURL,
	)
	if err != nil {
		return fmt.Errorf("attach gateway session: %w", err)
	}
	return nil
}

func (r *paymentRepo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, u StatusUpdate) (bool, error) {
	var raw any
	if len(u.RawCallback) > 0 {
		raw = string(u.RawCallback)
	}
	res, err := conn(r.db, tx).ExecContext(ctx, `
		UPDATE payments
		SET status = $3,
		    gateway_transaction_ref = COALESCE($4, gateway_transaction_ref),
		    raw_callback = COALESCE($5::jsonb, raw_callback),
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		u.ID, u.From, u.To, nullString(u.TransactionRef), raw,
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return affected(res)
}

func (r *paymentRepo) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1
		AND method = $2
		AND created_at < $3
		ORDER BY created_at
		LIMIT $4`,
		domain.PaymentPending, domain.MethodGateway, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
