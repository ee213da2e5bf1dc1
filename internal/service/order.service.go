package service

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID, requester Requester) (*domain.Order, error)
	// AdvanceStatus is the operator action that moves an order through fulfilment.
	AdvanceStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error)
}

type CreateOrderInput struct {
	CustomerID    uuid.NullUUID
	Items         []ItemInput
	VoucherCode   string
	ShippingFee   decimal.Decimal
	PaymentMethod domain.PaymentMethod
	Contact       domain.Contact
}

// Requester is who is reading an order. A zero Requester is a guest.
type Requester struct {
	CustomerID uuid.NullUUID
	Admin      bool
}

// canSee hides customer orders from other customers. Guest orders are
// reachable by anyone holding the id.
func (r Requester) canSee(o *domain.Order) bool {
	if r.Admin || !o.CustomerID.Valid {
		return true
	}
	return r.CustomerID.Valid && r.CustomerID.UUID == o.CustomerID.UUID
}

type orderService struct {
	tx          database.TxRunner
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	pricing     *PricingValidator
	vouchers    VoucherService
	now         func() time.Time
}

func NewOrderService(
	tx database.TxRunner,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	pricing *PricingValidator,
	vouchers VoucherService,
) OrderService {
	return &orderService{
		tx:          tx,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		pricing:     pricing,
		vouchers:    vouchers,
		now:         time.Now,
	}
}

func (in CreateOrderInput) validate() error {
	if !in.PaymentMethod.Valid() || in.ShippingFee.IsNegative() {
		return domain.ErrInvalidRequest
	}
	c := in.Contact
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" || strings.TrimSpace(c.ShippingAddress) == "" {
		return domain.ErrInvalidRequest
	}
	return nil
}

// CreateOrder prices the items, checks the voucher under a row lock and writes
// the order with its items in one transaction. Pay-on-delivery orders also get
// their pending payment here.
func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		ID:            uuid.New(),
		CustomerID:    in.CustomerID,
		Status:        domain.OrderPending,
		PaymentMethod: in.PaymentMethod,
		ShippingFee:   in.ShippingFee.Round(2),
		Contact:       in.Contact,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		priced, err := s.pricing.Price(ctx, tx, in.Items)
		if err != nil {
			return err
		}

		discount := decimal.Zero
		if code := normalizeCode(in.VoucherCode); code != "" {
			v, err := s.vouchers.ValidateAndReserve(ctx, tx, code, in.CustomerID)
			if err != nil {
				return err
			}
			discount = v.Discount(priced.Subtotal)
			order.Voucher = v.Snapshot()
		}

		order.Subtotal = priced.Subtotal.Round(2)
		order.DiscountAmount = discount
		order.Total = domain.OrderTotal(order.Subtotal, order.ShippingFee, discount)

		for i := range priced.Lines {
			priced.Lines[i].OrderID = order.ID
		}
		order.Items = priced.Lines

		if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := s.orderRepo.CreateItems(ctx, tx, order.Items); err != nil {
			return err
		}

		if order.PaymentMethod == domain.MethodCOD {
			p := &domain.Payment{
				ID:        uuid.New(),
				OrderID:   order.ID,
				Method:    domain.MethodCOD,
				Amount:    order.Total,
				Status:    domain.PaymentPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.paymentRepo.CreatePayment(ctx, tx, p); err != nil {
				return err
			}
			order.Payment = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("order created",
		"order_id", order.ID,
		"payment_method", order.PaymentMethod,
		"total", order.Total.StringFixed(2),
		"voucher", order.Voucher != nil,
	)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID, requester Requester) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if order == nil || !requester.canSee(order) {
		return nil, domain.ErrOrderNotFound
	}
	if err := s.hydrate(ctx, nil, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) hydrate(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	items, err := s.orderRepo.FindItems(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items

	p, err := s.paymentRepo.FindLatestByOrder(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	order.Payment = p
	return nil
}

func (s *orderService) AdvanceStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.orderRepo.LockById(ctx, tx, id)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if !order.Status.CanTransition(target) {
			return domain.ErrInvalidTransition
		}

		moved, err := s.orderRepo.UpdateOrderStatus(ctx, tx, id, order.Status, target)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvalidTransition
		}
		order.Status = target

		switch target {
		case domain.OrderDelivered:
			if order.PaymentMethod == domain.MethodCOD {
				if err := s.settleCOD(ctx, tx, order); err != nil {
					return err
				}
			}
		case domain.OrderCancelled:
			if err := s.cancelPending(ctx, tx, order); err != nil {
				return err
			}
		}

		return s.hydrate(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("order status advanced", "order_id", id, "status", target)
	return order, nil
}

// settleCOD records the courier's cash collection and redeems the voucher.
func (s *orderService) settleCOD(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	p, err := s.paymentRepo.FindActiveByOrder(ctx, tx, order.ID, domain.MethodCOD)
	if err != nil {
		return err
	}
	if p != nil && p.Status == domain.PaymentPending {
		if _, err := s.paymentRepo.UpdatePaymentStatus(ctx, tx, repo.StatusUpdate{
			ID:   p.ID,
			From: domain.PaymentPending,
			To:   domain.PaymentCompleted,
		}); err != nil {
			return err
		}
	}

	if order.Voucher == nil {
		return nil
	}
	redeemed, err := s.vouchers.Redeem(ctx, tx, order.Voucher.Code, order.ID)
	if err != nil {
		return err
	}
	if !redeemed {
		slog.Warn("voucher already redeemed", "order_id", order.ID, "voucher", order.Voucher.Code)
	}
	return nil
}

func (s *orderService) cancelPending(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	p, err := s.paymentRepo.FindActiveByOrder(ctx, tx, order.ID, order.PaymentMethod)
	if err != nil || p == nil || p.Status != domain.PaymentPending {
		return err
	}
	_, err = s.paymentRepo.UpdatePaymentStatus(ctx, tx, repo.StatusUpdate{
		ID:   p.ID,
		From: domain.PaymentPending,
		To:   domain.PaymentCancelled,
	})
	return err
}
