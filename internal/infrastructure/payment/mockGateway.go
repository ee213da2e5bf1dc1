package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	req       LinkRequest
	reference string
}

// MockGateway is an in-memory stand-in for the hosted payment provider. It
// hands out payment links and, when asked, produces the callback body the real
// gateway would post once the customer has paid.
type MockGateway struct {
	mu       sync.RWMutex
	sessions map[string]session
	verifier *Verifier
	latency  time.Duration
}

func NewMockGateway(checksumKey string, latency time.Duration) *MockGateway {
	return &MockGateway{
		sessions: make(map[string]session),
		verifier: NewVerifier(checksumKey),
		latency:  latency,
	}
}

func (pg *MockGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(pg.latency):
	}

	// same product code returns the same session
	pg.mu.RLock()
	if s, exists := pg.sessions[req.ProductCode]; exists {
		pg.mu.RUnlock()
		return pg.link(req.ProductCode, s), nil
	}
	pg.mu.RUnlock()

	s := session{req: req, reference: "FT" + uuid.NewString()[:12]}
	pg.mu.Lock()
	pg.sessions[req.ProductCode] = s
	pg.mu.Unlock()

	return pg.link(req.ProductCode, s), nil
}

func (pg *MockGateway) link(code string, s session) *Link {
	return &Link{
		PaymentURL:  "https://pay.mock.local/checkout/" + code,
		ProductCode: code,
		Reference:   s.reference,
	}
}

// Outcome describes one simulated customer payment.
type Outcome struct {
	Status string
	// Sparse drops the signature and correlation token, like the gateway's
	// alternate notification format.
	Sparse bool
}

// RandomOutcome picks a result the way real traffic tends to look:
// mostly paid, some declined, and a share of paid notifications that arrive
// in the sparse unsigned format.
func RandomOutcome() Outcome {
	chance := rand.IntN(100)
	switch {
	case chance < 70:
		return Outcome{Status: "PAID"}
	case chance < 90:
		return Outcome{Status: "DECLINED"}
	default:
		return Outcome{Status: "PAID", Sparse: true}
	}
}

// Callback renders the notification body for productCode.
func (pg *MockGateway) Callback(productCode string, o Outcome) ([]byte, error) {
	pg.mu.RLock()
	s, exists := pg.sessions[productCode]
	pg.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("mock gateway: unknown product code %s", productCode)
	}

	if o.Sparse {
		return json.Marshal(map[string]any{
			"code": "00",
			"desc": "success",
			"data": map[string]any{
				"orderCode": productCode,
				"amount":    s.req.Amount.StringFixed(2),
				"status":    o.Status,
			},
		})
	}

	cb := &Callback{
		ProductCode:    productCode,
		Amount:         s.req.Amount.StringFixed(2),
		ProductType:    "ORDER",
		PaymentMethod:  "BANK_TRANSFER",
		Status:         o.Status,
		TransactionRef: s.reference,
		MerchantToken:  s.req.MerchantToken,
	}
	return json.Marshal(map[string]string{
		"product_code":    cb.ProductCode,
		"amount":          cb.Amount,
		"product_type":    cb.ProductType,
		"payment_method":  cb.PaymentMethod,
		"status":          cb.Status,
		"transaction_ref": cb.TransactionRef,
		"merchant_token":  cb.MerchantToken,
		"signature":       pg.verifier.Sign(cb),
	})
}
