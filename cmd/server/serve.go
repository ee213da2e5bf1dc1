package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"checkout-core/internal/app"
	"checkout-core/internal/config"
	"checkout-core/internal/database"
	"checkout-core/internal/handler"
	"checkout-core/internal/infrastructure/cache"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/logger"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

func runServe(migrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	dedupe := openCache(ctx, cfg)
	if dedupe != nil {
		defer dedupe.Close()
	}

	a := app.New(cfg, db, payment.NewHTTPGateway(cfg.Gateway), dedupe)

	if cfg.ExpirySweepInterval > 0 {
		go a.Sweeper(cfg.ExpirySweepInterval).Run(ctx)
	}

	srv := handler.NewServer(a.Orders, a.Payments, a.Vouchers, a.Reconciler, a.Health, handler.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openCache connects the callback dedupe cache when one is configured.
// Reconciliation works without it, so a dead Redis only costs a warning.
func openCache(ctx context.Context, cfg *config.Config) cache.Cache {
	if cfg.RedisAddr == "" {
		return nil
	}
	c := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, "checkout")
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		slog.Warn("redis unavailable, callback dedupe disabled", "addr", cfg.RedisAddr, "error", err)
		_ = c.Close()
		return nil
	}
	return c
}
