package domain

import "errors"

var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrInvalidProduct           = errors.New("product is not available")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrVoucherNotFound          = errors.New("voucher not found")
	ErrVoucherNotActive         = errors.New("voucher is not active")
	ErrVoucherAlreadyUsed       = errors.New("voucher already used")
	ErrVoucherWrongOwner        = errors.New("voucher belongs to another customer")
	ErrVoucherExpired           = errors.New("voucher expired")
	ErrVoucherCodeTaken         = errors.New("voucher code already exists")
	ErrAmountMismatch           = errors.New("amount does not match order total")
	ErrAlreadyPaid              = errors.New("order already paid")
	ErrInvalidPaymentMethod     = errors.New("order does not use this payment method")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrInvalidCallbackSignature = errors.New("invalid callback signature")
	ErrOrderNotFound            = errors.New("order not found")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidRequest, "INVALID_REQUEST"},
	{ErrInvalidProduct, "INVALID_PRODUCT"},
	{ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{ErrVoucherNotFound, "VOUCHER_NOT_FOUND"},
	{ErrVoucherNotActive, "VOUCHER_NOT_ACTIVE"},
	{ErrVoucherAlreadyUsed, "VOUCHER_ALREADY_USED"},
	{ErrVoucherWrongOwner, "VOUCHER_WRONG_OWNER"},
	{ErrVoucherExpired, "VOUCHER_EXPIRED"},
	{ErrVoucherCodeTaken, "VOUCHER_CODE_TAKEN"},
	{ErrAmountMismatch, "AMOUNT_MISMATCH"},
	{ErrAlreadyPaid, "ALREADY_PAID"},
	{ErrInvalidPaymentMethod, "INVALID_PAYMENT_METHOD"},
	{ErrPaymentNotFound, "PAYMENT_NOT_FOUND"},
	{ErrInvalidCallbackSignature, "INVALID_CALLBACK_SIGNATURE"},
	{ErrOrderNotFound, "ORDER_NOT_FOUND"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrGatewayUnavailable, "GATEWAY_UNAVAILABLE"},
}

// Code returns the machine-readable code for err, or INTERNAL_ERROR when err
// does not wrap one of the package errors.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL_ERROR"
}
