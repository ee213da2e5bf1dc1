package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

var hundred = decimal.NewFromInt(100)

type Voucher struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	IsActive      bool            `json:"is_active"`
	IsUsed        bool            `json:"is_used"`
	UsedAt        *time.Time      `json:"used_at,omitempty"`
	UsedOrderID   uuid.NullUUID   `json:"used_order_id"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Check runs the eligibility rules for customerID at now. The order of the
// checks decides which error a caller sees when several rules fail.
func (v *Voucher) Check(customerID uuid.NullUUID, now time.Time) error {
	if !v.IsActive {
		return ErrVoucherNotActive
	}
	if v.IsUsed {
		return ErrVoucherAlreadyUsed
	}
	if !customerID.Valid || customerID.UUID != v.CustomerID {
		return ErrVoucherWrongOwner
	}
	if v.ExpiresAt != nil && !now.Before(*v.ExpiresAt) {
		return ErrVoucherExpired
	}
	return nil
}

// Discount returns the amount taken off subtotal. It never exceeds subtotal.
func (v *Voucher) Discount(subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch v.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(v.DiscountValue).Div(hundred)
	case DiscountFixed:
		d = v.DiscountValue
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

func (v *Voucher) Snapshot() *VoucherSnapshot {
	return &VoucherSnapshot{
		Code:          v.Code,
		DiscountType:  v.DiscountType,
		DiscountValue: v.DiscountValue,
	}
}

// ValidateTerms checks the discount terms an administrator is about to save.
func ValidateTerms(t DiscountType, value decimal.Decimal) error {
	switch t {
	case DiscountPercentage:
		if !value.IsPositive() || value.GreaterThan(hundred) {
			return ErrInvalidRequest
		}
	case DiscountFixed:
		if !value.IsPositive() {
			return ErrInvalidRequest
		}
	default:
		return ErrInvalidRequest
	}
	return nil
}
