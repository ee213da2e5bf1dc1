package handler

import (
	"net/http"

	"checkout-core/internal/domain"
	"checkout-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	Items         []service.ItemInput  `json:"items" binding:"required"`
	ShippingFee   decimal.Decimal      `json:"shipping_fee"`
	PaymentMethod domain.PaymentMethod `json:"payment_method" binding:"required"`
	VoucherCode   string               `json:"voucher_code"`
	Contact       domain.Contact       `json:"contact"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := s.orders.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		CustomerID:    requester(c).CustomerID,
		Items:         req.Items,
		VoucherCode:   req.VoucherCode,
		ShippingFee:   req.ShippingFee,
		PaymentMethod: req.PaymentMethod,
		Contact:       req.Contact,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := s.orders.GetOrder(c.Request.Context(), id, requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleGetOrderPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.payments.GetOrderPayment(c.Request.Context(), id, requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type advanceOrderRequest struct {
	Status domain.OrderStatus `json:"status" binding:"required"`
}

func (s *Server) handleAdvanceOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req advanceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := s.orders.AdvanceStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return uuid.Nil, false
	}
	return id, true
}
