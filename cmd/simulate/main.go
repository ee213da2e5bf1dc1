package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"checkout-core/internal/app"
	"checkout-core/internal/config"
	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/logger"
	"checkout-core/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var seedProducts = []domain.Product{
	{ID: uuid.MustParse("7a0c5a4e-1f0b-4c55-9b1e-000000000001"), Name: "Espresso beans 1kg", Price: decimal.RequireFromString("24.50"), IsActive: true, StockQuantity: sql.NullInt64{Int64: 1000, Valid: true}},
	{ID: uuid.MustParse("7a0c5a4e-1f0b-4c55-9b1e-000000000002"), Name: "Pour-over kettle", Price: decimal.RequireFromString("39.90"), IsActive: true},
	{ID: uuid.MustParse("7a0c5a4e-1f0b-4c55-9b1e-000000000003"), Name: "Paper filters", Price: decimal.RequireFromString("4.20"), IsActive: true},
}

type options struct {
	configPath     string
	orders         int
	latency        time.Duration
	pendingTimeout time.Duration
	abandonRate    int
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive orders through checkout against a mock payment gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "optional YAML config file")
	cmd.Flags().IntVarP(&opts.orders, "orders", "n", 20, "number of orders to place")
	cmd.Flags().DurationVar(&opts.latency, "latency", 50*time.Millisecond, "mock gateway latency")
	cmd.Flags().DurationVar(&opts.pendingTimeout, "pending-timeout", 3*time.Second, "how long an unpaid gateway payment stays open")
	cmd.Flags().IntVar(&opts.abandonRate, "abandon", 15, "percent of customers who never finish paying")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// localSecrets fill in for a missing environment. The simulator serves no
// HTTP and signs its own callbacks.
var localSecrets = map[string]string{
	"JWT_SECRET":           "simulator-jwt-secret",
	"GATEWAY_CHECKSUM_KEY": "simulator-checksum-key",
}

func run(ctx context.Context, opts options) error {
	for k, v := range localSecrets {
		if os.Getenv(k) == "" {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)
	cfg.PendingTimeout = opts.pendingTimeout

	db, err := database.NewPostgres(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	gateway := payment.NewMockGateway(cfg.Gateway.ChecksumKey, opts.latency)
	a := app.New(cfg, db, gateway, nil)

	for i := range seedProducts {
		if err := a.ProductRepo.Upsert(ctx, nil, &seedProducts[i]); err != nil {
			return err
		}
	}

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", opts.orders)
	var abandoned []uuid.UUID
	for i := 0; i < opts.orders; i++ {
		customer := uuid.NullUUID{UUID: uuid.New(), Valid: true}
		voucher := ""
		if i%4 == 0 {
			v, err := a.Vouchers.Create(ctx, service.CreateVoucherInput{
				Code:          fmt.Sprintf("SIM%s", customer.UUID.String()[:8]),
				DiscountType:  domain.DiscountPercentage,
				DiscountValue: decimal.NewFromInt(10),
				CustomerID:    customer.UUID,
			})
			if err != nil {
				return err
			}
			voucher = v.Code
		}

		order, err := a.Orders.CreateOrder(ctx, service.CreateOrderInput{
			CustomerID:    customer,
			Items:         randomItems(),
			VoucherCode:   voucher,
			ShippingFee:   decimal.RequireFromString("3.50"),
			PaymentMethod: domain.MethodGateway,
			Contact: domain.Contact{
				Name:            fmt.Sprintf("Customer %d", i+1),
				Phone:           "0900000000",
				ShippingAddress: "1 Simulation Street",
			},
		})
		if err != nil {
			fmt.Printf("[%d] CREATE FAILED: %v\n", i+1, err)
			continue
		}

		fmt.Printf("[%d] Order %s total=%s voucher=%q ... ", i+1, order.ID, order.Total.StringFixed(2), voucher)
		requester := service.Requester{CustomerID: customer}
		started, err := a.Payments.Initiate(ctx, service.InitiateInput{OrderID: order.ID, Amount: order.Total, Requester: requester})
		if err != nil {
			fmt.Printf("INITIATE FAILED: %v\n", err)
			continue
		}

		if rand.IntN(100) < opts.abandonRate {
			fmt.Printf("ABANDONED\n")
			abandoned = append(abandoned, order.ID)
			continue
		}

		outcome := payment.RandomOutcome()
		res, err := deliver(ctx, a, gateway, started.PaymentID, outcome)
		if err != nil {
			fmt.Printf("CALLBACK %s FAILED: %v\n", outcome.Status, err)
		} else {
			fmt.Printf("CALLBACK %s sparse=%t strategy=%s applied=%t\n", outcome.Status, outcome.Sparse, res.Strategy, res.Applied)
		}

		// the gateway retries; a second delivery must change nothing
		if res != nil && res.Applied && rand.IntN(3) == 0 {
			again, err := deliver(ctx, a, gateway, started.PaymentID, outcome)
			if err == nil {
				fmt.Printf("    -> redelivered, applied=%t\n", again.Applied)
			}
		}

		fresh, err := a.Orders.GetOrder(ctx, order.ID, requester)
		if err != nil {
			return err
		}
		paymentStatus := "-"
		if fresh.Payment != nil {
			paymentStatus = string(fresh.Payment.Status)
		}
		fmt.Printf("    -> DB Status: order=%s payment=%s\n", fresh.Status, paymentStatus)
		fmt.Println("---------------------------------------------------")
	}

	if len(abandoned) > 0 {
		fmt.Printf("--- WAITING %s FOR %d ABANDONED PAYMENTS TO GO STALE ---\n", opts.pendingTimeout, len(abandoned))
		time.Sleep(opts.pendingTimeout + 500*time.Millisecond)

		expired, err := a.Sweeper(time.Second).Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Expiry sweep cancelled %d payments\n", expired)

		for _, id := range abandoned {
			o, err := a.Orders.GetOrder(ctx, id, service.Requester{Admin: true})
			if err != nil {
				return err
			}
			fmt.Printf("    %s -> %s\n", id, o.Status)
		}
	}

	slog.Info("simulation finished", "orders", opts.orders, "abandoned", len(abandoned))
	return nil
}

func deliver(ctx context.Context, a *app.App, gw *payment.MockGateway, paymentID uuid.UUID, o payment.Outcome) (*service.CallbackResult, error) {
	p, err := a.PaymentRepo.FindById(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound
	}
	raw, err := gw.Callback(p.GatewayProductCode, o)
	if err != nil {
		return nil, err
	}
	return a.Reconciler.HandleCallback(ctx, raw)
}

func randomItems() []service.ItemInput {
	n := 1 + rand.IntN(len(seedProducts))
	items := make([]service.ItemInput, 0, n)
	for _, idx := range rand.Perm(len(seedProducts))[:n] {
		items = append(items, service.ItemInput{ProductID: seedProducts[idx].ID, Quantity: 1 + rand.IntN(3)})
	}
	return items
}
