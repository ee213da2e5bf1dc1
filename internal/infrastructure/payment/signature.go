package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

type SignatureResult int

const (
	// SignatureNotApplicable covers the alternate callback format that carries
	// no signature or lacks the signed fields. It proves nothing either way.
	SignatureNotApplicable SignatureResult = iota
	SignatureValid
	SignatureInvalid
)

func (r SignatureResult) String() string {
	switch r {
	case SignatureValid:
		return "valid"
	case SignatureInvalid:
		return "invalid"
	default:
		return "not_applicable"
	}
}

// Sign returns the lowercase hex HMAC-SHA512 of data under key.
func Sign(key, data string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedPayload is the exact string the gateway signs for a callback.
func SignedPayload(cb *Callback) string {
	return strings.Join([]string{
		cb.ProductCode,
		cb.Amount,
		cb.ProductType,
		cb.PaymentMethod,
		cb.Status,
		cb.TransactionRef,
		cb.MerchantToken,
	}, "|")
}

type Verifier struct {
	key string
}

func NewVerifier(checksumKey string) *Verifier {
	return &Verifier{key: checksumKey}
}

func (v *Verifier) Sign(cb *Callback) string {
	return Sign(v.key, SignedPayload(cb))
}

// Verify checks cb's signature. Product type and payment method may be blank;
// the other signed fields must be present for the check to apply.
func (v *Verifier) Verify(cb *Callback) SignatureResult {
	if v.key == "" || cb.Signature == "" {
		return SignatureNotApplicable
	}
	if cb.ProductCode == "" || cb.Amount == "" || cb.Status == "" || cb.TransactionRef == "" || cb.MerchantToken == "" {
		return SignatureNotApplicable
	}
	want := v.Sign(cb)
	got := strings.ToLower(strings.TrimSpace(cb.Signature))
	if hmac.Equal([]byte(want), []byte(got)) {
		return SignatureValid
	}
	return SignatureInvalid
}
