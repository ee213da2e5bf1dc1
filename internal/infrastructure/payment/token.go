package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Token is the correlation data handed to the gateway at initiation and
// echoed back in callbacks.
type Token struct {
	OrderID   uuid.UUID `json:"order_id"`
	PaymentID uuid.UUID `json:"payment_id"`
	Nonce     string    `json:"nonce"`
}

func EncodeToken(orderID, paymentID uuid.UUID) string {
	b, _ := json.Marshal(Token{OrderID: orderID, PaymentID: paymentID, Nonce: uuid.NewString()[:8]})
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeToken(s string) (*Token, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if t.OrderID == uuid.Nil {
		return nil, fmt.Errorf("decode token: missing order id")
	}
	return &t, nil
}
