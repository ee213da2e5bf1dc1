package handler

import (
	"context"
	"net/http"
	"time"

	"checkout-core/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Server struct {
	orders     service.OrderService
	payments   service.PaymentService
	vouchers   service.VoucherService
	reconciler service.Reconciler
	health     HealthChecker
	router     *gin.Engine
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
}

func NewServer(
	orders service.OrderService,
	payments service.PaymentService,
	vouchers service.VoucherService,
	reconciler service.Reconciler,
	health HealthChecker,
	opts Options,
) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	if len(opts.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s := &Server{
		orders:     orders,
		payments:   payments,
		vouchers:   vouchers,
		reconciler: reconciler,
		health:     health,
		router:     router,
	}

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		// the gateway posts here without credentials
		api.POST("/payments/callback", s.handleCallback)

		authed := api.Group("", Auth(opts.JWTSecret))
		authed.POST("/orders", s.handleCreateOrder)
		authed.GET("/orders/:id", s.handleGetOrder)
		authed.GET("/orders/:id/payment", s.handleGetOrderPayment)
		authed.POST("/payments/initiate", s.handleInitiatePayment)
		authed.GET("/payments/:id", s.handleGetPayment)
		authed.GET("/vouchers/validate", RequireCustomer, s.handleValidateVoucher)

		admin := authed.Group("/admin", RequireAdmin)
		admin.POST("/vouchers", s.handleCreateVoucher)
		admin.GET("/vouchers", s.handleListVouchers)
		admin.PATCH("/vouchers/:id", s.handleSetVoucherActive)
		admin.DELETE("/vouchers/:id", s.handleDeleteVoucher)
		admin.PATCH("/orders/:id/status", s.handleAdvanceOrder)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
