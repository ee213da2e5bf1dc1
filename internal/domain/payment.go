package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// CanTransition reports whether a payment may move from s to next.
//
//	pending   -> completed | failed | cancelled
//	completed -> refunded
//
// Everything else is terminal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentCompleted || next == PaymentFailed || next == PaymentCancelled
	case PaymentCompleted:
		return next == PaymentRefunded
	default:
		return false
	}
}

type Payment struct {
	ID                    uuid.UUID       `json:"id"`
	OrderID               uuid.UUID       `json:"order_id"`
	Method                PaymentMethod   `json:"method"`
	Amount                decimal.Decimal `json:"amount"`
	Status                PaymentStatus   `json:"status"`
	GatewayTransactionRef string          `json:"gateway_transaction_ref,omitempty"`
	GatewayProductCode    string          `json:"gateway_product_code,omitempty"`
	PaymentURL            string          `json:"payment_url,omitempty"`
	RawCallback           json.RawMessage `json:"-"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Expired reports whether a pending gateway payment has outlived timeout.
// Pay-on-delivery payments wait for the courier and never expire.
func (p *Payment) Expired(now time.Time, timeout time.Duration) bool {
	return p.Status == PaymentPending &&
		p.Method == MethodGateway &&
		now.Sub(p.CreatedAt) > timeout
}
