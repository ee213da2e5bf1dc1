package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	Initiate(ctx context.Context, in InitiateInput) (*Initiation, error)
	GetPayment(ctx context.Context, id uuid.UUID, requester Requester) (*domain.Payment, error)
	GetOrderPayment(ctx context.Context, orderID uuid.UUID, requester Requester) (*domain.Payment, error)
}

type InitiateInput struct {
	OrderID   uuid.UUID
	Amount    decimal.Decimal
	Contact   domain.Contact
	Requester Requester
}

type Initiation struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	PaymentURL       string    `json:"payment_url"`
	GatewayReference string    `json:"gateway_reference"`
}

type paymentService struct {
	tx          database.TxRunner
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	gateway     payment.PaymentGateway
	expirer     *Expirer
	timeout     time.Duration
	now         func() time.Time
}

func NewPaymentService(
	tx database.TxRunner,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	gateway payment.PaymentGateway,
	expirer *Expirer,
	gatewayTimeout time.Duration,
) PaymentService {
	return &paymentService{
		tx:          tx,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		gateway:     gateway,
		expirer:     expirer,
		timeout:     gatewayTimeout,
		now:         time.Now,
	}
}

// productCode derives the gateway session code from the payment id, so a
// retried initiation asks the gateway for the same session.
func productCode(paymentID uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(paymentID.String(), "-", "")[:20])
}

// Initiate opens (or reopens) the hosted payment page for a pending gateway
// order. A gateway failure leaves the payment pending for the expirer.
func (s *paymentService) Initiate(ctx context.Context, in InitiateInput) (*Initiation, error) {
	var (
		order   *domain.Order
		p       *domain.Payment
		expired bool
	)
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.orderRepo.LockById(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil || !in.Requester.canSee(order) {
			return domain.ErrOrderNotFound
		}
		if order.PaymentMethod != domain.MethodGateway {
			return domain.ErrInvalidPaymentMethod
		}

		paid, err := s.paymentRepo.HasCompleted(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderCancelled {
			return domain.ErrInvalidTransition
		}
		if paid || order.Status != domain.OrderPending {
			return domain.ErrAlreadyPaid
		}

		if !in.Amount.Equal(order.Total) {
			return domain.ErrAmountMismatch
		}

		p, err = s.paymentRepo.FindActiveByOrder(ctx, tx, order.ID, domain.MethodGateway)
		if err != nil {
			return err
		}
		if p != nil {
			// a stale link would be cancelled by the next status read
			if p.Expired(s.expirer.now(), s.expirer.timeout) {
				expired = true
				_, err = s.expirer.expirePayment(ctx, tx, p)
				return err
			}
			return nil
		}

		expired, err = s.expirer.expireUnpaidOrder(ctx, tx, order)
		if err != nil || expired {
			return err
		}

		now := s.now()
		p = &domain.Payment{
			ID:        uuid.New(),
			OrderID:   order.ID,
			Method:    domain.MethodGateway,
			Amount:    order.Total,
			Status:    domain.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.paymentRepo.CreatePayment(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		slog.Info("initiate refused for expired checkout", "order_id", order.ID)
		return nil, domain.ErrInvalidTransition
	}

	if p.PaymentURL != "" {
		return &Initiation{PaymentID: p.ID, PaymentURL: p.PaymentURL, GatewayReference: p.GatewayProductCode}, nil
	}

	contact := order.Contact
	if in.Contact.Name != "" {
		contact = in.Contact
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	link, err := s.gateway.CreatePaymentLink(callCtx, payment.LinkRequest{
		ProductCode:   productCode(p.ID),
		Amount:        p.Amount,
		Description:   fmt.Sprintf("Order %s", order.ID.String()[:8]),
		MerchantToken: payment.EncodeToken(order.ID, p.ID),
		BuyerName:     contact.Name,
		BuyerEmail:    contact.Email,
		BuyerPhone:    contact.Phone,
	})
	if err != nil {
		slog.Error("create payment link failed", "order_id", order.ID, "payment_id", p.ID, "error", err)
		return nil, err
	}

	if err := s.paymentRepo.AttachGatewaySession(ctx, nil, p.ID, link.ProductCode, link.PaymentURL); err != nil {
		return nil, err
	}

	ref := link.Reference
	if ref == "" {
		ref = link.ProductCode
	}
	slog.Info("payment initiated", "order_id", order.ID, "payment_id", p.ID, "product_code", link.ProductCode)
	return &Initiation{PaymentID: p.ID, PaymentURL: link.PaymentURL, GatewayReference: ref}, nil
}

func (s *paymentService) GetPayment(ctx context.Context, id uuid.UUID, requester Requester) (*domain.Payment, error) {
	p, err := s.paymentRepo.FindById(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if _, err := s.visibleOrder(ctx, p.OrderID, requester); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return s.expirer.Apply(ctx, p)
}

// GetOrderPayment returns the latest payment of an order. Reading an order
// that never opened a payment expires it once it is abandoned.
func (s *paymentService) GetOrderPayment(ctx context.Context, orderID uuid.UUID, requester Requester) (*domain.Payment, error) {
	order, err := s.visibleOrder(ctx, orderID, requester)
	if err != nil {
		return nil, err
	}
	p, err := s.paymentRepo.FindLatestByOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		if _, err := s.expirer.ExpireOrder(ctx, order); err != nil {
			return nil, err
		}
		return nil, domain.ErrPaymentNotFound
	}
	return s.expirer.Apply(ctx, p)
}

func (s *paymentService) visibleOrder(ctx context.Context, orderID uuid.UUID, requester Requester) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !requester.canSee(order) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}
