package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/cache"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"

	"github.com/google/uuid"
)

type Reconciler interface {
	// HandleCallback applies one gateway notification. The returned result is
	// filled in as far as processing got, even when err is non-nil.
	HandleCallback(ctx context.Context, raw []byte) (*CallbackResult, error)
}

type CallbackResult struct {
	PaymentID uuid.UUID            `json:"payment_id,omitempty"`
	OrderID   uuid.UUID            `json:"order_id,omitempty"`
	Strategy  string               `json:"strategy,omitempty"`
	Signature string               `json:"signature"`
	From      domain.PaymentStatus `json:"from,omitempty"`
	To        domain.PaymentStatus `json:"to,omitempty"`
	Applied   bool                 `json:"applied"`
	Duplicate bool                 `json:"duplicate,omitempty"`
}

type reconciler struct {
	tx          database.TxRunner
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	vouchers    VoucherService
	verifier    *payment.Verifier
	matchers    []matcher
	cache       cache.Cache
	dedupeTTL   time.Duration
	now         func() time.Time
}

// NewReconciler builds the callback reconciler. dedupe may be nil; the
// database compare-and-set alone keeps callbacks idempotent.
func NewReconciler(
	tx database.TxRunner,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	vouchers VoucherService,
	verifier *payment.Verifier,
	dedupe cache.Cache,
	dedupeTTL time.Duration,
) Reconciler {
	return &reconciler{
		tx:          tx,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		vouchers:    vouchers,
		verifier:    verifier,
		matchers:    callbackMatchers(paymentRepo),
		cache:       dedupe,
		dedupeTTL:   dedupeTTL,
		now:         time.Now,
	}
}

func (r *reconciler) HandleCallback(ctx context.Context, raw []byte) (*CallbackResult, error) {
	cb, err := payment.ParseCallback(raw)
	if err != nil {
		return &CallbackResult{Signature: payment.SignatureNotApplicable.String()}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	sig := r.verifier.Verify(cb)
	result := &CallbackResult{Signature: sig.String()}

	key := r.dedupeKey(cb)
	if sig != payment.SignatureInvalid && r.seen(ctx, key) {
		result.Duplicate = true
		slog.Info("duplicate callback skipped", "product_code", cb.ProductCode, "status", cb.Status)
		return result, nil
	}

	m := matchCallback(ctx, r.matchers, cb)
	if m == nil {
		slog.Warn("unmatched payment callback",
			"product_code", cb.ProductCode,
			"transaction_ref", cb.TransactionRef,
			"amount", cb.Amount,
			"status", cb.Status,
			"signature", sig.String(),
		)
		return result, domain.ErrPaymentNotFound
	}

	p := m.payment
	result.PaymentID = p.ID
	result.OrderID = p.OrderID
	result.Strategy = m.strategy
	result.From = p.Status

	logger := slog.With("payment_id", p.ID, "order_id", p.OrderID, "strategy", m.strategy, "signature", sig.String())
	if m.lowConfidence {
		logger.Warn("callback matched by amount only", "confidence", "low", "amount", cb.Amount)
	} else {
		logger.Info("callback matched")
	}

	if sig == payment.SignatureInvalid {
		logger.Warn("callback signature mismatch, ignoring")
		return result, domain.ErrInvalidCallbackSignature
	}

	target, known := payment.MapStatus(cb.Status)
	if !known {
		logger.Warn("unknown gateway status, treating as pending", "status", cb.Status)
	}
	result.To = target

	// unsigned callbacks must at least agree with what we charged
	if sig == payment.SignatureNotApplicable {
		if amount, ok := cb.AmountDecimal(); ok && !amount.Equal(p.Amount) {
			logger.Warn("unsigned callback amount differs from payment", "amount", cb.Amount, "expected", p.Amount.StringFixed(2))
			return result, domain.ErrAmountMismatch
		}
	}

	if target == p.Status || !p.Status.CanTransition(target) {
		if target != p.Status && p.Status != domain.PaymentPending {
			logger.Warn("callback conflicts with settled payment", "current", p.Status, "reported", target)
		}
		return result, nil
	}

	applied, err := r.apply(ctx, p, target, cb)
	if err != nil {
		return result, err
	}
	result.Applied = applied

	if applied {
		logger.Info("payment status updated", "from", p.Status, "to", target)
		r.remember(ctx, key, target)
	}
	return result, nil
}

// apply moves the payment and cascades to the order and voucher in one
// transaction. It reports false when another delivery got there first.
func (r *reconciler) apply(ctx context.Context, p *domain.Payment, target domain.PaymentStatus, cb *payment.Callback) (bool, error) {
	var moved bool
	err := r.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		moved, err = r.paymentRepo.UpdatePaymentStatus(ctx, tx, repo.StatusUpdate{
			ID:             p.ID,
			From:           p.Status,
			To:             target,
			TransactionRef: cb.TransactionRef,
			RawCallback:    cb.Raw,
		})
		if err != nil || !moved {
			return err
		}

		switch target {
		case domain.PaymentCompleted:
			return r.confirmOrder(ctx, tx, p.OrderID)
		case domain.PaymentFailed, domain.PaymentCancelled, domain.PaymentRefunded:
			_, err := r.orderRepo.UpdateOrderStatus(ctx, tx, p.OrderID, domain.OrderPending, domain.OrderCancelled)
			return err
		}
		return nil
	})
	return moved, err
}

func (r *reconciler) confirmOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	order, err := r.orderRepo.FindById(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}

	if order.Status == domain.OrderPending {
		if _, err := r.orderRepo.UpdateOrderStatus(ctx, tx, orderID, domain.OrderPending, domain.OrderConfirmed); err != nil {
			return err
		}
	}

	if order.Voucher == nil {
		return nil
	}
	redeemed, err := r.vouchers.Redeem(ctx, tx, order.Voucher.Code, orderID)
	if err != nil {
		return err
	}
	if !redeemed {
		slog.Info("voucher already redeemed", "order_id", orderID, "voucher", order.Voucher.Code)
	}
	return nil
}

func (r *reconciler) dedupeKey(cb *payment.Callback) string {
	if r.cache == nil {
		return ""
	}
	id := cb.TransactionRef
	if id == "" {
		id = cb.ProductCode
	}
	if id == "" || cb.Status == "" {
		return ""
	}
	return r.cache.GenerateKey("callback", id+":"+strings.ToUpper(cb.Status))
}

func (r *reconciler) seen(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	val, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("dedupe cache read failed", "error", err)
		return false
	}
	return val != ""
}

func (r *reconciler) remember(ctx context.Context, key string, status domain.PaymentStatus) {
	if key == "" {
		return
	}
	if err := r.cache.Set(ctx, key, string(status), r.dedupeTTL); err != nil {
		slog.Warn("dedupe cache write failed", "error", err)
	}
}
