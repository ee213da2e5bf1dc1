package handler

import (
	"io"
	"log/slog"
	"net/http"

	"checkout-core/internal/domain"
	"checkout-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxCallbackBody = 64 << 10

type initiatePaymentRequest struct {
	OrderID uuid.UUID       `json:"order_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Contact domain.Contact  `json:"contact"`
}

func (s *Server) handleInitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	started, err := s.payments.Initiate(c.Request.Context(), service.InitiateInput{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Contact:   req.Contact,
		Requester: requester(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, started)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.payments.GetPayment(c.Request.Context(), id, requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleCallback always acknowledges. The gateway retries on anything but a
// 2xx, and a failed reconciliation is logged for manual follow-up instead.
func (s *Server) handleCallback(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		slog.Warn("read callback body failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	res, err := s.reconciler.HandleCallback(c.Request.Context(), raw)
	if err != nil {
		level := slog.LevelWarn
		if statusFor(err) == http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "callback not applied",
			"code", domain.Code(err),
			"error", err,
			"body", string(raw),
		)
	}

	body := gin.H{"success": true}
	if res != nil {
		body["applied"] = res.Applied
	}
	c.JSON(http.StatusOK, body)
}
