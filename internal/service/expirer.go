package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/repo"
)

// Expirer turns abandoned gateway checkouts into cancelled ones. It runs on
// every payment status read, so it needs no scheduler to be correct.
type Expirer struct {
	tx          database.TxRunner
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	timeout     time.Duration
	now         func() time.Time
}

func NewExpirer(
	tx database.TxRunner,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	timeout time.Duration,
) *Expirer {
	return &Expirer{
		tx:          tx,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Apply cancels p and its still-pending order when p has gone stale, and
// returns the payment as stored afterwards. Fresh payments come back as is.
func (e *Expirer) Apply(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	if !p.Expired(e.now(), e.timeout) {
		return p, nil
	}

	var moved bool
	err := e.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		moved, err = e.expirePayment(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	if moved {
		slog.Info("expired pending payment",
			"payment_id", p.ID,
			"order_id", p.OrderID,
			"age", e.now().Sub(p.CreatedAt).Round(time.Second).String(),
		)
	}

	// a callback may have settled the payment first; report what is stored
	fresh, err := e.paymentRepo.FindById(ctx, nil, p.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return fresh, nil
}

// expirePayment moves p and its order to cancelled inside tx. It reports
// false when p was no longer pending.
func (e *Expirer) expirePayment(ctx context.Context, tx *sql.Tx, p *domain.Payment) (bool, error) {
	moved, err := e.paymentRepo.UpdatePaymentStatus(ctx, tx, repo.StatusUpdate{
		ID:   p.ID,
		From: domain.PaymentPending,
		To:   domain.PaymentCancelled,
	})
	if err != nil || !moved {
		return false, err
	}
	if _, err := e.orderRepo.UpdateOrderStatus(ctx, tx, p.OrderID, domain.OrderPending, domain.OrderCancelled); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireOrder cancels a gateway order that was never sent to the gateway
// once it has outlived the timeout. Orders with an open payment are left to
// Apply. It reports whether the order was cancelled.
func (e *Expirer) ExpireOrder(ctx context.Context, o *domain.Order) (bool, error) {
	if !o.Abandoned(e.now(), e.timeout) {
		return false, nil
	}

	var cancelled bool
	err := e.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		locked, err := e.orderRepo.LockById(ctx, tx, o.ID)
		if err != nil || locked == nil {
			return err
		}
		cancelled, err = e.expireUnpaidOrder(ctx, tx, locked)
		return err
	})
	if err != nil {
		return false, err
	}
	if cancelled {
		slog.Info("expired unpaid order",
			"order_id", o.ID,
			"age", e.now().Sub(o.CreatedAt).Round(time.Second).String(),
		)
	}
	return cancelled, nil
}

// expireUnpaidOrder cancels o inside tx when it is abandoned and has no
// pending or completed gateway payment. The caller holds the order lock.
func (e *Expirer) expireUnpaidOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) (bool, error) {
	if !o.Abandoned(e.now(), e.timeout) {
		return false, nil
	}
	active, err := e.paymentRepo.FindActiveByOrder(ctx, tx, o.ID, domain.MethodGateway)
	if err != nil || active != nil {
		return false, err
	}
	return e.orderRepo.UpdateOrderStatus(ctx, tx, o.ID, domain.OrderPending, domain.OrderCancelled)
}
