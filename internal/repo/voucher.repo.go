package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-core/internal/domain"

	"github.com/google/uuid"
)

type VoucherRepo interface {
	// Create returns domain.ErrVoucherCodeTaken when the code exists in any letter case.
	Create(ctx context.Context, tx *sql.Tx, v *domain.Voucher) error
	// FindByCode matches case-insensitively and returns nil, nil when absent.
	FindByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error)
	// LockByCode is FindByCode with SELECT ... FOR UPDATE; tx must be non-nil.
	LockByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error)
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Voucher, error)
	List(ctx context.Context, tx *sql.Tx) ([]domain.Voucher, error)
	SetActive(ctx context.Context, tx *sql.Tx, id uuid.UUID, active bool) (bool, error)
	// DeleteUnused removes the voucher only while is_used is false.
	DeleteUnused(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
	// MarkUsed flips is_used once; a second call for the same code reports false.
	MarkUsed(ctx context.Context, tx *sql.Tx, code string, orderID uuid.UUID, at time.Time) (bool, error)
}

type voucherRepo struct {
	db *sql.DB
}

func NewVoucherRepo(db *sql.DB) VoucherRepo {
	return &voucherRepo{db: db}
}

const voucherColumns = `id, code, discount_type, discount_value, customer_id, is_active, is_used,
	used_at, used_order_id, expires_at, created_at, updated_at`

func scanVoucher(row scanner) (*domain.Voucher, error) {
	var (
		v         domain.Voucher
		usedAt    sql.NullTime
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&v.ID,
		&v.Code,
		&v.DiscountType,
		&v.DiscountValue,
		&v.CustomerID,
		&v.IsActive,
		&v.IsUsed,
		&usedAt,
		&v.UsedOrderID,
		&expiresAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		v.UsedAt = &usedAt.Time
	}
	if expiresAt.Valid {
		v.ExpiresAt = &expiresAt.Time
	}
	return &v, nil
}

func (r *voucherRepo) Create(ctx context.Context, tx *sql.Tx, v *domain.Voucher) error {
	var expiresAt sql.NullTime
	if v.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *v.ExpiresAt, Valid: true}
	}
	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO vouchers (id, code, discount_type, discount_value, customer_id, is_active, is_used, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8, $9)`,
		v.ID, v.Code, v.DiscountType, v.DiscountValue, v.CustomerID, v.IsActive, expiresAt, v.CreatedAt, v.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrVoucherCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

func (r *voucherRepo) findOne(ctx context.Context, tx *sql.Tx, query string, arg any) (*domain.Voucher, error) {
	v, err := scanVoucher(conn(r.db, tx).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find voucher: %w", err)
	}
	return v, nil
}

func (r *voucherRepo) FindByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error) {
	return r.findOne(ctx, tx, "SELECT "+voucherColumns+" FROM vouchers WHERE lower(code) = lower($1)", code)
}

func (r *voucherRepo) LockByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error) {
	if tx == nil {
		return nil, errors.New("lock voucher: transaction required")
	}
	return r.findOne(ctx, tx, "SELECT "+voucherColumns+" FROM vouchers WHERE lower(code) = lower($1) FOR UPDATE", code)
}

func (r *voucherRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Voucher, error) {
	return r.findOne(ctx, tx, "SELECT "+voucherColumns+" FROM vouchers WHERE id = $1", id)
}

func (r *voucherRepo) List(ctx context.Context, tx *sql.Tx) ([]domain.Voucher, error) {
	rows, err := conn(r.db, tx).QueryContext(ctx, "SELECT "+voucherColumns+" FROM vouchers ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []domain.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	return vouchers, rows.Err()
}

func (r *voucherRepo) SetActive(ctx context.Context, tx *sql.Tx, id uuid.UUID, active bool) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx,
		"UPDATE vouchers SET is_active = $2, updated_at = now() WHERE id = $1",
		id, active,
	)
	if err != nil {
		return false, fmt.Errorf("update voucher: %w", err)
	}
	return affected(res)
}

func (r *voucherRepo) DeleteUnused(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx, "DELETE FROM vouchers WHERE id = $1 AND is_used = false", id)
	if err != nil {
		return false, fmt.Errorf("delete voucher: %w", err)
	}
	return affected(res)
}

func (r *voucherRepo) MarkUsed(ctx context.Context, tx *sql.Tx, code string, orderID uuid.UUID, at time.Time) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx, `
		UPDATE vouchers
		SET is_used = true,
		    used_at = $3,
		    used_order_id = $2,
		    updated_at = now()
		WHERE lower(code) = lower($1) AND is_used = false`,
		code, orderID, at,
	)
	if err != nil {
		return false, fmt.Errorf("redeem voucher: %w", err)
	}
	return affected(res)
}
