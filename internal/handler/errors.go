package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"checkout-core/internal/domain"

	"github.com/gin-gonic/gin"
)

var statuses = map[error]int{
	domain.ErrInvalidRequest:           http.StatusBadRequest,
	domain.ErrInvalidProduct:           http.StatusUnprocessableEntity,
	domain.ErrInsufficientStock:        http.StatusConflict,
	domain.ErrVoucherNotFound:          http.StatusNotFound,
	domain.ErrVoucherNotActive:         http.StatusUnprocessableEntity,
	domain.ErrVoucherAlreadyUsed:       http.StatusConflict,
	domain.ErrVoucherWrongOwner:        http.StatusForbidden,
	domain.ErrVoucherExpired:           http.StatusUnprocessableEntity,
	domain.ErrVoucherCodeTaken:         http.StatusConflict,
	domain.ErrAmountMismatch:           http.StatusConflict,
	domain.ErrAlreadyPaid:              http.StatusConflict,
	domain.ErrInvalidPaymentMethod:     http.StatusBadRequest,
	domain.ErrPaymentNotFound:          http.StatusNotFound,
	domain.ErrInvalidCallbackSignature: http.StatusUnauthorized,
	domain.ErrOrderNotFound:            http.StatusNotFound,
	domain.ErrInvalidTransition:        http.StatusConflict,
	domain.ErrGatewayUnavailable:       http.StatusBadGateway,
}

func statusFor(err error) int {
	for target, status := range statuses {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes {"error", "code"}. Internal errors are logged and
// their details kept out of the response.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "code": domain.Code(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.Code(domain.ErrInvalidRequest)})
}
