package handler

import (
	"net/http"

	"checkout-core/internal/domain"
	"checkout-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type voucherPreview struct {
	Voucher  *domain.Voucher  `json:"voucher"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
}

// handleValidateVoucher is the checkout preview. With ?subtotal= it also
// reports the discount that subtotal would get.
func (s *Server) handleValidateVoucher(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		badRequest(c, domain.ErrInvalidRequest)
		return
	}

	v, err := s.vouchers.Validate(c.Request.Context(), code, requester(c).CustomerID)
	if err != nil {
		respondError(c, err)
		return
	}

	preview := voucherPreview{Voucher: v}
	if raw := c.Query("subtotal"); raw != "" {
		subtotal, err := decimal.NewFromString(raw)
		if err != nil || subtotal.IsNegative() {
			badRequest(c, domain.ErrInvalidRequest)
			return
		}
		d := v.Discount(subtotal)
		preview.Discount = &d
	}
	c.JSON(http.StatusOK, preview)
}

func (s *Server) handleCreateVoucher(c *gin.Context) {
	var req service.CreateVoucherInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := s.vouchers.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) handleListVouchers(c *gin.Context) {
	list, err := s.vouchers.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []domain.Voucher{}
	}
	c.JSON(http.StatusOK, gin.H{"vouchers": list, "count": len(list)})
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (s *Server) handleSetVoucherActive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := s.vouchers.SetActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleDeleteVoucher(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.vouchers.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
