package main

import (
	"fmt"
	"log/slog"

	"checkout-core/internal/config"
	"checkout-core/internal/database"
	"checkout-core/internal/logger"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)

			ctx := cmd.Context()
			db, err := database.NewPostgres(ctx, cfg.Database.DSN())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			slog.Info("database is up to date")
			return nil
		},
	}
}
