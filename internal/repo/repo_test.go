package repo_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"checkout-core/internal/database/dbtest"
	"checkout-core/internal/domain"
	"checkout-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	code := m.Run()
	dbtest.Terminate()
	os.Exit(code)
}

func newVoucher(code string, customer uuid.UUID) *domain.Voucher {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Voucher{
		ID:            uuid.New(),
		Code:          code,
		DiscountType:  domain.DiscountFixed,
		DiscountValue: decimal.NewFromInt(10),
		CustomerID:    customer,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newOrder(method domain.PaymentMethod, total string, voucher *domain.VoucherSnapshot) *domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	t := decimal.RequireFromString(total)
	return &domain.Order{
		ID:             uuid.New(),
		CustomerID:     uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Status:         domain.OrderPending,
		PaymentMethod:  method,
		Subtotal:       t,
		ShippingFee:    decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          t,
		Voucher:        voucher,
		Contact:        domain.Contact{Name: "Ann", Phone: "0900", ShippingAddress: "1 Main St"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newPayment(orderID uuid.UUID, method domain.PaymentMethod, amount string, created time.Time) *domain.Payment {
	return &domain.Payment{
		ID:        uuid.New(),
		OrderID:   orderID,
		Method:    method,
		Amount:    decimal.RequireFromString(amount),
		Status:    domain.PaymentPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestVoucherRepo(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	vouchers := repo.NewVoucherRepo(db)
	customer := uuid.New()

	v := newVoucher("Save10", customer)
	require.NoError(t, vouchers.Create(ctx, nil, v))

	t.Run("code is unique in any case", func(t *testing.T) {
		err := vouchers.Create(ctx, nil, newVoucher("SAVE10", uuid.New()))
		assert.ErrorIs(t, err, domain.ErrVoucherCodeTaken)
	})

	t.Run("lookup ignores case", func(t *testing.T) {
		got, err := vouchers.FindByCode(ctx, nil, "save10")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, customer, got.CustomerID)
		assert.True(t, got.DiscountValue.Equal(decimal.NewFromInt(10)))
		assert.Nil(t, got.ExpiresAt)

		missing, err := vouchers.FindByCode(ctx, nil, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("lock needs a transaction", func(t *testing.T) {
		_, err := vouchers.LockByCode(ctx, nil, "SAVE10")
		assert.Error(t, err)
	})

	t.Run("redeemed once", func(t *testing.T) {
		orderID := uuid.New()
		ok, err := vouchers.MarkUsed(ctx, nil, "SAVE10", orderID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = vouchers.MarkUsed(ctx, nil, "save10", uuid.New(), time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := vouchers.FindById(ctx, nil, v.ID)
		require.NoError(t, err)
		assert.True(t, got.IsUsed)
		assert.NotNil(t, got.UsedAt)
		assert.Equal(t, orderID, got.UsedOrderID.UUID)
	})

	t.Run("used vouchers are not deleted", func(t *testing.T) {
		ok, err := vouchers.DeleteUnused(ctx, nil, v.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		other := newVoucher("SPARE", customer)
		require.NoError(t, vouchers.Create(ctx, nil, other))
		ok, err = vouchers.DeleteUnused(ctx, nil, other.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("toggle active", func(t *testing.T) {
		ok, err := vouchers.SetActive(ctx, nil, v.ID, false)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = vouchers.SetActive(ctx, nil, uuid.New(), false)
		require.NoError(t, err)
		assert.False(t, ok)

		list, err := vouchers.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.False(t, list[0].IsActive)
	})
}

func TestOrderRepo(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	orders := repo.NewOrderRepo(db)

	snap := &domain.VoucherSnapshot{Code: "SAVE20", DiscountType: domain.DiscountPercentage, DiscountValue: decimal.NewFromInt(20)}
	o := newOrder(domain.MethodGateway, "90.00", snap)
	require.NoError(t, orders.CreateOrder(ctx, nil, o))
	require.NoError(t, orders.CreateItems(ctx, nil, []domain.OrderItem{
		{ID: uuid.New(), OrderID: o.ID, ProductID: uuid.New(), ProductName: "Beans", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00"), LineTotal: decimal.RequireFromString("50.00")},
		{ID: uuid.New(), OrderID: o.ID, ProductID: uuid.New(), ProductName: "Apron", Quantity: 1, UnitPrice: decimal.RequireFromString("50.00"), LineTotal: decimal.RequireFromString("50.00")},
	}))

	got, err := orders.FindById(ctx, nil, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, o.CustomerID, got.CustomerID)
	assert.True(t, got.Total.Equal(o.Total))
	require.NotNil(t, got.Voucher)
	assert.Equal(t, "SAVE20", got.Voucher.Code)
	assert.Equal(t, domain.DiscountPercentage, got.Voucher.DiscountType)
	assert.Equal(t, "Ann", got.Contact.Name)

	items, err := orders.FindItems(ctx, nil, o.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Apron", items[0].ProductName)

	missing, err := orders.FindById(ctx, nil, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	guest := newOrder(domain.MethodCOD, "10.00", nil)
	guest.CustomerID = uuid.NullUUID{}
	require.NoError(t, orders.CreateOrder(ctx, nil, guest))
	got, err = orders.FindById(ctx, nil, guest.ID)
	require.NoError(t, err)
	assert.False(t, got.CustomerID.Valid)
	assert.Nil(t, got.Voucher)

	t.Run("status moves only from the expected state", func(t *testing.T) {
		ok, err := orders.UpdateOrderStatus(ctx, nil, o.ID, domain.OrderConfirmed, domain.OrderShipped)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = orders.UpdateOrderStatus(ctx, nil, o.ID, domain.OrderPending, domain.OrderConfirmed)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("open orders hold their voucher", func(t *testing.T) {
		held, err := orders.HasOpenOrderWithVoucher(ctx, nil, repo.VoucherHold{Code: "save20"})
		require.NoError(t, err)
		assert.True(t, held)

		ok, err := orders.UpdateOrderStatus(ctx, nil, o.ID, domain.OrderConfirmed, domain.OrderCancelled)
		require.NoError(t, err)
		require.True(t, ok)

		held, err = orders.HasOpenOrderWithVoucher(ctx, nil, repo.VoucherHold{Code: "SAVE20"})
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("abandoned and reissued vouchers are not held", func(t *testing.T) {
		payments := repo.NewPaymentRepo(db)
		now := time.Now().UTC()
		cutoff := now.Add(-30 * time.Minute)

		old := newOrder(domain.MethodGateway, "30.00", &domain.VoucherSnapshot{Code: "AGAIN", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(5)})
		old.CreatedAt = now.Add(-2 * time.Hour).Truncate(time.Microsecond)
		require.NoError(t, orders.CreateOrder(ctx, nil, old))

		held, err := orders.HasOpenOrderWithVoucher(ctx, nil, repo.VoucherHold{Code: "again"})
		require.NoError(t, err)
		assert.True(t, held)

		held, err = orders.HasOpenOrderWithVoucher(ctx, nil, repo.VoucherHold{Code: "again", StaleBefore: cutoff})
		require.NoError(t, err)
		assert.False(t, held, "no payment was ever opened")

		held, err = orders.HasOpenOrderWithVoucher(ctx, nil, repo.VoucherHold{Code: "again", IssuedAt: now})
		require.NoError(t, err)
		assert.False(t, held, "placed before the voucher was issued")

		abandoned, err := orders.FindAbandonedOrders(ctx, cutoff, 10)
		require.NoError(t, err)
		require.Len(t, abandoned, 1)
		assert.Equal(t, old.ID, abandoned[0].ID)
		assert.Equal(t, "AGAIN", abandoned[0].Voucher.Code)

		require.NoError(t, payments.CreatePayment(ctx, nil, newPayment(old.ID, domain.MethodGateway, "30.00", now)))

		held, err = orders.HasOpenOrderWithVoucher(ctx, nil, repo.VoucherHold{Code: "again", StaleBefore: cutoff})
		require.NoError(t, err)
		assert.True(t, held, "an open payment keeps the hold")

		abandoned, err = orders.FindAbandonedOrders(ctx, cutoff, 10)
		require.NoError(t, err)
		assert.Empty(t, abandoned)
	})
}

func TestPaymentRepo(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	orders := repo.NewOrderRepo(db)
	payments := repo.NewPaymentRepo(db)

	o := newOrder(domain.MethodGateway, "90.00", nil)
	require.NoError(t, orders.CreateOrder(ctx, nil, o))

	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	p := newPayment(o.ID, domain.MethodGateway, "90.00", created)
	require.NoError(t, payments.CreatePayment(ctx, nil, p))

	t.Run("one live payment per order and method", func(t *testing.T) {
		err := payments.CreatePayment(ctx, nil, newPayment(o.ID, domain.MethodGateway, "90.00", time.Now()))
		assert.Error(t, err)
	})

	t.Run("gateway session", func(t *testing.T) {
		require.NoError(t, payments.AttachGatewaySession(ctx, nil, p.ID, "PC123", "https://pay.test/PC123"))

		got, err := payments.FindByProductCode(ctx, nil, "PC123")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, "https://pay.test/PC123", got.PaymentURL)

		got, err = payments.FindByReference(ctx, nil, "PC123")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)

		got, err = payments.FindLatestPendingByAmount(ctx, nil, decimal.RequireFromString("90"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("pending before cutoff", func(t *testing.T) {
		stale, err := payments.FindPendingBefore(ctx, time.Now().Add(-30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, p.ID, stale[0].ID)

		fresh, err := payments.FindPendingBefore(ctx, created.Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, fresh)
	})

	t.Run("status compare and set", func(t *testing.T) {
		raw := json.RawMessage(`{"status":"PAID"}`)
		ok, err := payments.UpdatePaymentStatus(ctx, nil, repo.StatusUpdate{
			ID: p.ID, From: domain.PaymentPending, To: domain.PaymentCompleted,
			TransactionRef: "FT001", RawCallback: raw,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = payments.UpdatePaymentStatus(ctx, nil, repo.StatusUpdate{
			ID: p.ID, From: domain.PaymentPending, To: domain.PaymentFailed,
		})
		require.NoError(t, err)
		assert.False(t, ok, "second transition out of pending loses")

		got, err := payments.FindByReference(ctx, nil, "FT001")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.PaymentCompleted, got.Status)
		assert.JSONEq(t, string(raw), string(got.RawCallback))
		assert.Equal(t, "PC123", got.GatewayProductCode)

		paid, err := payments.HasCompleted(ctx, nil, o.ID)
		require.NoError(t, err)
		assert.True(t, paid)

		active, err := payments.FindActiveByOrder(ctx, nil, o.ID, domain.MethodGateway)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, p.ID, active.ID)

		stale, err := payments.FindPendingBefore(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("cod payments never show up as stale", func(t *testing.T) {
		cod := newOrder(domain.MethodCOD, "15.00", nil)
		require.NoError(t, orders.CreateOrder(ctx, nil, cod))
		require.NoError(t, payments.CreatePayment(ctx, nil, newPayment(cod.ID, domain.MethodCOD, "15.00", created)))

		stale, err := payments.FindPendingBefore(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}

func TestProductRepo(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	products := repo.NewProductRepo(db)

	p := &domain.Product{ID: uuid.New(), Name: "Kettle", Price: decimal.RequireFromString("39.90"), IsActive: true}
	require.NoError(t, products.Upsert(ctx, nil, p))

	got, err := products.GetProduct(ctx, nil, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.StockQuantity.Valid)

	p.StockQuantity = sql.NullInt64{Int64: 3, Valid: true}
	p.IsActive = false
	require.NoError(t, products.Upsert(ctx, nil, p))

	got, err = products.GetProduct(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.StockQuantity.Int64)
	assert.False(t, got.IsActive)

	missing, err := products.GetProduct(ctx, nil, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVoucherLock_SerializesReservations(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	vouchers := repo.NewVoucherRepo(db)
	require.NoError(t, vouchers.Create(ctx, nil, newVoucher("ONCE", uuid.New())))

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx1.Rollback()
	_, err = vouchers.LockByCode(ctx, tx1, "ONCE")
	require.NoError(t, err)

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx2.Rollback()

	lockCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = vouchers.LockByCode(lockCtx, tx2, "ONCE")
	assert.Error(t, err, "second locker waits while the first transaction is open")
}
