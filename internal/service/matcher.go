package service

import (
	"context"
	"log/slog"

	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"
)

const (
	MatchCorrelationToken = "correlation_token"
	MatchTransactionRef   = "transaction_ref"
	MatchProductCode      = "product_code"
	MatchAmountFallback   = "amount_fallback"
)

// matcher is one way of finding the payment a callback talks about. A nil
// payment with a nil error means the strategy had nothing to go on.
type matcher struct {
	name          string
	lowConfidence bool
	find          func(ctx context.Context, cb *payment.Callback) (*domain.Payment, error)
}

type match struct {
	payment       *domain.Payment
	strategy      string
	lowConfidence bool
}

// callbackMatchers lists the strategies from most to least reliable. The
// first one that finds a payment wins.
func callbackMatchers(payments repo.PaymentRepo) []matcher {
	return []matcher{
		{
			name: MatchCorrelationToken,
			find: func(ctx context.Context, cb *payment.Callback) (*domain.Payment, error) {
				if cb.MerchantToken == "" {
					return nil, nil
				}
				tok, err := payment.DecodeToken(cb.MerchantToken)
				if err != nil {
					return nil, err
				}
				p, err := payments.FindById(ctx, nil, tok.PaymentID)
				if err != nil {
					return nil, err
				}
				if p != nil && p.OrderID == tok.OrderID {
					return p, nil
				}
				p, err = payments.FindLatestByOrder(ctx, nil, tok.OrderID)
				if err != nil || p == nil || p.Method != domain.MethodGateway {
					return nil, err
				}
				return p, nil
			},
		},
		{
			name: MatchTransactionRef,
			find: func(ctx context.Context, cb *payment.Callback) (*domain.Payment, error) {
				if cb.TransactionRef == "" {
					return nil, nil
				}
				return payments.FindByReference(ctx, nil, cb.TransactionRef)
			},
		},
		{
			name: MatchProductCode,
			find: func(ctx context.Context, cb *payment.Callback) (*domain.Payment, error) {
				if cb.ProductCode == "" {
					return nil, nil
				}
				return payments.FindByProductCode(ctx, nil, cb.ProductCode)
			},
		},
		{
			name:          MatchAmountFallback,
			lowConfidence: true,
			find: func(ctx context.Context, cb *payment.Callback) (*domain.Payment, error) {
				amount, ok := cb.AmountDecimal()
				if !ok {
					return nil, nil
				}
				return payments.FindLatestPendingByAmount(ctx, nil, amount)
			},
		},
	}
}

// matchCallback runs the matchers in order. A failing strategy is logged and
// the next one is tried.
func matchCallback(ctx context.Context, matchers []matcher, cb *payment.Callback) *match {
	for _, m := range matchers {
		p, err := m.find(ctx, cb)
		if err != nil {
			slog.Warn("callback matcher failed", "strategy", m.name, "error", err)
			continue
		}
		if p != nil {
			return &match{payment: p, strategy: m.name, lowConfidence: m.lowConfidence}
		}
	}
	return nil
}
