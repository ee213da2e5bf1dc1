// Package dbtest starts one throwaway Postgres per test binary for
// integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"checkout-core/internal/database"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	once      sync.Once
	container *postgres.PostgresContainer
	shared    *sql.DB
	startErr  error
)

func start(ctx context.Context) (*sql.DB, error) {
	var err error
	container, err = postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("checkout"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, err
	}
	db, err := database.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open returns the migrated shared database with every table emptied. It
// skips t under -short or when no container runtime is reachable.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(func() {
		shared, startErr = start(context.Background())
	})
	require.NoError(t, startErr, "start postgres container")

	_, err := shared.ExecContext(context.Background(),
		"TRUNCATE payments, order_items, orders, vouchers, products")
	require.NoError(t, err)
	return shared
}

// Terminate stops the container if a test started one. Call it from TestMain.
func Terminate() {
	if shared != nil {
		_ = shared.Close()
	}
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
}
