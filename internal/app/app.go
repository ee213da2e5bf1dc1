package app

import (
	"database/sql"
	"time"

	"checkout-core/internal/config"
	"checkout-core/internal/database"
	"checkout-core/internal/infrastructure/cache"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"
	"checkout-core/internal/service"
	"checkout-core/internal/worker"
)

// App holds the wired service graph.
type App struct {
	Orders     service.OrderService
	Payments   service.PaymentService
	Vouchers   service.VoucherService
	Reconciler service.Reconciler
	Expirer    *service.Expirer

	OrderRepo   repo.OrderRepo
	PaymentRepo repo.PaymentRepo
	ProductRepo repo.ProductRepo
	Health      database.Service

	cfg *config.Config
}

// New wires repositories and services over db. dedupe may be nil.
func New(cfg *config.Config, db *sql.DB, gateway payment.PaymentGateway, dedupe cache.Cache) *App {
	tx := database.NewTxRunner(db)

	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)
	voucherRepo := repo.NewVoucherRepo(db)
	productRepo := repo.NewProductRepo(db)

	vouchers := service.NewVoucherService(tx, voucherRepo, orderRepo, cfg.PendingTimeout)
	expirer := service.NewExpirer(tx, orderRepo, paymentRepo, cfg.PendingTimeout)
	pricing := service.NewPricingValidator(productRepo)
	verifier := payment.NewVerifier(cfg.Gateway.ChecksumKey)

	return &App{
		Orders:     service.NewOrderService(tx, orderRepo, paymentRepo, pricing, vouchers),
		Payments:   service.NewPaymentService(tx, orderRepo, paymentRepo, gateway, expirer, cfg.Gateway.Timeout),
		Vouchers:   vouchers,
		Reconciler: service.NewReconciler(tx, orderRepo, paymentRepo, vouchers, verifier, dedupe, cfg.DedupeTTL),
		Expirer:    expirer,

		OrderRepo:   orderRepo,
		PaymentRepo: paymentRepo,
		ProductRepo: productRepo,
		Health:      database.New(db),

		cfg: cfg,
	}
}

// Sweeper returns the background expiry worker running every interval.
func (a *App) Sweeper(interval time.Duration) *worker.ExpirySweeper {
	return worker.NewExpirySweeper(a.PaymentRepo, a.OrderRepo, a.Expirer, a.cfg.PendingTimeout, interval)
}
