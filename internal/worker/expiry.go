package worker

import (
	"context"
	"log/slog"
	"time"

	"checkout-core/internal/domain"
)

// PendingFinder lists pending gateway payments created before a cutoff.
type PendingFinder interface {
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

// AbandonedFinder lists pending gateway orders that never opened a payment.
type AbandonedFinder interface {
	FindAbandonedOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// Expirer cancels one payment or unpaid order if it has gone stale.
type Expirer interface {
	Apply(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
	ExpireOrder(ctx context.Context, o *domain.Order) (bool, error)
}

const sweepBatch = 100

// ExpirySweeper walks abandoned gateway checkouts in the background. Reads
// already expire payments on their own; the sweeper only keeps orders that
// nobody looks at from staying pending forever.
type ExpirySweeper struct {
	payments PendingFinder
	orders   AbandonedFinder
	expirer  Expirer
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewExpirySweeper(
	payments PendingFinder,
	orders AbandonedFinder,
	expirer Expirer,
	timeout time.Duration,
	interval time.Duration,
) *ExpirySweeper {
	return &ExpirySweeper{
		payments: payments,
		orders:   orders,
		expirer:  expirer,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
	}
}

func (w *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("expiry sweeper started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				slog.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expiry sweep finished", "cancelled", n)
			}
		}
	}
}

// Sweep expires one batch of stale payments and one batch of unpaid orders,
// and reports how many checkouts it cancelled.
func (w *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.timeout)

	stale, err := w.payments.FindPendingBefore(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for i := range stale {
		p, err := w.expirer.Apply(ctx, &stale[i])
		if err != nil {
			// leave it for the next tick
			slog.Warn("expire payment failed", "payment_id", stale[i].ID, "error", err)
			continue
		}
		if p.Status == domain.PaymentCancelled {
			cancelled++
		}
	}

	unpaid, err := w.orders.FindAbandonedOrders(ctx, cutoff, sweepBatch)
	if err != nil {
		return cancelled, err
	}
	for i := range unpaid {
		ok, err := w.expirer.ExpireOrder(ctx, &unpaid[i])
		if err != nil {
			slog.Warn("expire order failed", "order_id", unpaid[i].ID, "error", err)
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}
