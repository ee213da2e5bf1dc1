package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-core/internal/domain"

	"github.com/shopspring/decimal"
)

// Callback is a gateway notification normalised from either of the two
// payload shapes the gateway sends: the signed flat form and the sparse
// form that nests fields under "data" with camelCase keys.
type Callback struct {
	ProductCode    string
	Amount         string
	ProductType    string
	PaymentMethod  string
	Status         string
	TransactionRef string
	MerchantToken  string
	Signature      string
	Raw            json.RawMessage
}

var aliases = map[string][]string{
	"product_code":    {"product_code", "productCode", "orderCode", "order_code"},
	"amount":          {"amount"},
	"product_type":    {"product_type", "productType"},
	"payment_method":  {"payment_method", "paymentMethod"},
	"status":          {"status", "transaction_status", "transactionStatus"},
	"transaction_ref": {"transaction_ref", "transactionRef", "reference", "transaction_id", "transactionId"},
	"merchant_token":  {"merchant_token", "merchantToken", "extra_data", "extraData"},
	"signature":       {"signature", "checksum"},
}

// ParseCallback decodes raw into a Callback. Unknown keys are ignored.
func ParseCallback(raw []byte) (*Callback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}

	// top-level keys win over nested data keys
	if data, ok := fields["data"].(map[string]any); ok {
		for k, v := range data {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}

	get := func(name string) string {
		for _, key := range aliases[name] {
			if v, ok := fields[key]; ok && v != nil {
				return strings.TrimSpace(stringify(v))
			}
		}
		return ""
	}

	return &Callback{
		ProductCode:    get("product_code"),
		Amount:         get("amount"),
		ProductType:    get("product_type"),
		PaymentMethod:  get("payment_method"),
		Status:         get("status"),
		TransactionRef: get("transaction_ref"),
		MerchantToken:  get("merchant_token"),
		Signature:      get("signature"),
		Raw:            json.RawMessage(raw),
	}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// AmountDecimal parses the callback amount. ok is false when it is missing or malformed.
func (c *Callback) AmountDecimal() (decimal.Decimal, bool) {
	if c.Amount == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var statusTable = map[string]domain.PaymentStatus{
	"PAID":       domain.PaymentCompleted,
	"SUCCESS":    domain.PaymentCompleted,
	"SUCCEEDED":  domain.PaymentCompleted,
	"COMPLETED":  domain.PaymentCompleted,
	"00":         domain.PaymentCompleted,
	"FAILED":     domain.PaymentFailed,
	"FAILURE":    domain.PaymentFailed,
	"DECLINED":   domain.PaymentFailed,
	"ERROR":      domain.PaymentFailed,
	"CANCELLED":  domain.PaymentCancelled,
	"CANCELED":   domain.PaymentCancelled,
	"EXPIRED":    domain.PaymentCancelled,
	"PENDING":    domain.PaymentPending,
	"NEW":        domain.PaymentPending,
	"PROCESSING": domain.PaymentPending,
	"REFUNDED":   domain.PaymentRefunded,
}

// MapStatus translates gateway vocabulary. Unknown values map to pending with
// known=false so the caller can warn about them.
func MapStatus(s string) (status domain.PaymentStatus, known bool) {
	status, known = statusTable[strings.ToUpper(strings.TrimSpace(s))]
	if !known {
		return domain.PaymentPending, false
	}
	return status, true
}
