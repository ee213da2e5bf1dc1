package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VoucherService interface {
	// Validate is the checkout preview. It takes no locks.
	Validate(ctx context.Context, code string, customerID uuid.NullUUID) (*domain.Voucher, error)
	// ValidateAndReserve runs the same checks on the voucher row locked inside tx.
	ValidateAndReserve(ctx context.Context, tx *sql.Tx, code string, customerID uuid.NullUUID) (*domain.Voucher, error)
	// Redeem burns the voucher for orderID. It reports false when the voucher
	// was already used, which a repeated payment confirmation relies on.
	Redeem(ctx context.Context, tx *sql.Tx, code string, orderID uuid.UUID) (bool, error)

	Create(ctx context.Context, in CreateVoucherInput) (*domain.Voucher, error)
	List(ctx context.Context) ([]domain.Voucher, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*domain.Voucher, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type CreateVoucherInput struct {
	Code          string              `json:"code"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	ExpiresAt     *time.Time          `json:"expires_at"`
}

type voucherService struct {
	tx             database.TxRunner
	voucherRepo    repo.VoucherRepo
	orderRepo      repo.OrderRepo
	pendingTimeout time.Duration
	now            func() time.Time
}

// NewVoucherService builds the ledger. pendingTimeout is how long an unpaid
// gateway order keeps its voucher.
func NewVoucherService(
	tx database.TxRunner,
	voucherRepo repo.VoucherRepo,
	orderRepo repo.OrderRepo,
	pendingTimeout time.Duration,
) VoucherService {
	return &voucherService{
		tx:             tx,
		voucherRepo:    voucherRepo,
		orderRepo:      orderRepo,
		pendingTimeout: pendingTimeout,
		now:            time.Now,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *voucherService) Validate(ctx context.Context, code string, customerID uuid.NullUUID) (*domain.Voucher, error) {
	return s.check(ctx, nil, code, customerID, s.voucherRepo.FindByCode)
}

func (s *voucherService) ValidateAndReserve(ctx context.Context, tx *sql.Tx, code string, customerID uuid.NullUUID) (*domain.Voucher, error) {
	return s.check(ctx, tx, code, customerID, s.voucherRepo.LockByCode)
}

type voucherLookup func(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error)

func (s *voucherService) check(ctx context.Context, tx *sql.Tx, code string, customerID uuid.NullUUID, lookup voucherLookup) (*domain.Voucher, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ErrVoucherNotFound
	}

	v, err := lookup(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, domain.ErrVoucherNotFound
	}
	if err := v.Check(customerID, s.now()); err != nil {
		return nil, err
	}

	// an unpaid order already priced with this voucher holds it until it is
	// cancelled or abandoned
	held, err := s.orderRepo.HasOpenOrderWithVoucher(ctx, tx, s.hold(v))
	if err != nil {
		return nil, err
	}
	if held {
		return nil, domain.ErrVoucherAlreadyUsed
	}

	return v, nil
}

func (s *voucherService) hold(v *domain.Voucher) repo.VoucherHold {
	return repo.VoucherHold{
		Code:        v.Code,
		IssuedAt:    v.CreatedAt,
		StaleBefore: s.now().Add(-s.pendingTimeout),
	}
}

func (s *voucherService) Redeem(ctx context.Context, tx *sql.Tx, code string, orderID uuid.UUID) (bool, error) {
	return s.voucherRepo.MarkUsed(ctx, tx, normalizeCode(code), orderID, s.now())
}

func (s *voucherService) Create(ctx context.Context, in CreateVoucherInput) (*domain.Voucher, error) {
	code := normalizeCode(in.Code)
	if code == "" || in.CustomerID == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	if err := domain.ValidateTerms(in.DiscountType, in.DiscountValue); err != nil {
		return nil, err
	}

	now := s.now()
	v := &domain.Voucher{
		ID:            uuid.New(),
		Code:          code,
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue.Round(2),
		CustomerID:    in.CustomerID,
		IsActive:      true,
		ExpiresAt:     in.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.voucherRepo.Create(ctx, nil, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *voucherService) List(ctx context.Context) ([]domain.Voucher, error) {
	return s.voucherRepo.List(ctx, nil)
}

func (s *voucherService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*domain.Voucher, error) {
	updated, err := s.voucherRepo.SetActive(ctx, nil, id, active)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrVoucherNotFound
	}
	return s.voucherRepo.FindById(ctx, nil, id)
}

// Delete refuses vouchers that were redeemed or are held by an open order.
func (s *voucherService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		v, err := s.voucherRepo.FindById(ctx, tx, id)
		if err != nil {
			return err
		}
		if v == nil {
			return domain.ErrVoucherNotFound
		}
		if v.IsUsed {
			return domain.ErrVoucherAlreadyUsed
		}

		held, err := s.orderRepo.HasOpenOrderWithVoucher(ctx, tx, s.hold(v))
		if err != nil {
			return err
		}
		if held {
			return domain.ErrVoucherAlreadyUsed
		}

		deleted, err := s.voucherRepo.DeleteUnused(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrVoucherAlreadyUsed
		}
		return nil
	})
}
