package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// orderRank orders the forward-only part of the lifecycle. Cancelled sits outside it.
var orderRank = map[OrderStatus]int{
	OrderPending:   0,
	OrderConfirmed: 1,
	OrderShipped:   2,
	OrderDelivered: 3,
}

// CanTransition reports whether an order may move from s to next.
// Orders only move forward, one step at a time, except that pending and
// confirmed orders may be cancelled.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if next == OrderCancelled {
		return s == OrderPending || s == OrderConfirmed
	}
	from, ok := orderRank[s]
	if !ok {
		return false
	}
	to, ok := orderRank[next]
	return ok && to == from+1
}

// Open reports whether the order still holds on to its voucher.
func (s OrderStatus) Open() bool {
	return s != OrderCancelled
}

type PaymentMethod string

const (
	MethodCOD     PaymentMethod = "cod"
	MethodGateway PaymentMethod = "gateway"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCOD || m == MethodGateway
}

// Contact is the customer contact/address snapshot copied onto the order.
type Contact struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	ShippingAddress string `json:"shipping_address"`
	Note            string `json:"note,omitempty"`
}

// VoucherSnapshot keeps the voucher terms the order was priced with, so the
// order stays readable after the voucher itself is deleted.
type VoucherSnapshot struct {
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type Order struct {
	ID             uuid.UUID        `json:"id"`
	CustomerID     uuid.NullUUID    `json:"customer_id"`
	Status         OrderStatus      `json:"status"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	ShippingFee    decimal.Decimal  `json:"shipping_fee"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	Total          decimal.Decimal  `json:"total"`
	Voucher        *VoucherSnapshot `json:"voucher,omitempty"`
	Contact        Contact          `json:"contact"`
	Items          []OrderItem      `json:"items"`
	Payment        *Payment         `json:"payment,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Abandoned reports whether a pending gateway order has waited longer than
// timeout. Callers still check that no payment is open for it.
func (o *Order) Abandoned(now time.Time, timeout time.Duration) bool {
	return o.Status == OrderPending &&
		o.PaymentMethod == MethodGateway &&
		now.Sub(o.CreatedAt) > timeout
}

// OrderItem is a line item. UnitPrice is copied from the catalog at order time
// and never updated afterwards.
type OrderItem struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// OrderTotal computes max(0, subtotal + shipping - discount).
func OrderTotal(subtotal, shipping, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(shipping).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}
