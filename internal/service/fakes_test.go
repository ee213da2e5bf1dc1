package service

import (
	"context"
	"database/sql"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory stand-in for the Postgres tables. WithinTx
// restores a snapshot when fn fails, so rollbacks behave like the real thing.
type fakeStore struct {
	mu           sync.Mutex
	products     map[uuid.UUID]domain.Product
	orders       map[uuid.UUID]domain.Order
	items        map[uuid.UUID][]domain.OrderItem
	payments     map[uuid.UUID]domain.Payment
	paymentOrder []uuid.UUID
	vouchers     map[uuid.UUID]domain.Voucher
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[uuid.UUID]domain.Product),
		orders:   make(map[uuid.UUID]domain.Order),
		items:    make(map[uuid.UUID][]domain.OrderItem),
		payments: make(map[uuid.UUID]domain.Payment),
		vouchers: make(map[uuid.UUID]domain.Voucher),
	}
}

type snapshot struct {
	orders       map[uuid.UUID]domain.Order
	items        map[uuid.UUID][]domain.OrderItem
	payments     map[uuid.UUID]domain.Payment
	paymentOrder []uuid.UUID
	vouchers     map[uuid.UUID]domain.Voucher
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	snap := snapshot{
		orders:       maps.Clone(s.orders),
		items:        maps.Clone(s.items),
		payments:     maps.Clone(s.payments),
		paymentOrder: slices.Clone(s.paymentOrder),
		vouchers:     maps.Clone(s.vouchers),
	}
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.orders, s.items, s.payments, s.paymentOrder, s.vouchers =
			snap.orders, snap.items, snap.payments, snap.paymentOrder, snap.vouchers
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) addProduct(name string, price string, stock int64, tracked bool) uuid.UUID {
	p := domain.Product{
		ID:       uuid.New(),
		Name:     name,
		Price:    decimal.RequireFromString(price),
		IsActive: true,
	}
	if tracked {
		p.StockQuantity = sql.NullInt64{Int64: stock, Valid: true}
	}
	s.mu.Lock()
	s.products[p.ID] = p
	s.mu.Unlock()
	return p.ID
}

func (s *fakeStore) order(id uuid.UUID) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *fakeStore) payment(id uuid.UUID) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id]
}

func (s *fakeStore) voucherByCode(code string) domain.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vouchers {
		if strings.EqualFold(v.Code, code) {
			return v
		}
	}
	return domain.Voucher{}
}

// catalog

type fakeCatalog struct{ *fakeStore }

func (c fakeCatalog) GetProduct(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// orders

type fakeOrders struct{ *fakeStore }

var _ repo.OrderRepo = fakeOrders{}

func (f fakeOrders) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := *order
	o.Items, o.Payment = nil, nil
	f.orders[o.ID] = o
	return nil
}

func (f fakeOrders) CreateItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.items[it.OrderID] = append(slices.Clone(f.items[it.OrderID]), it)
	}
	return nil
}

func (f fakeOrders) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (f fakeOrders) LockById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return f.FindById(ctx, tx, id)
}

func (f fakeOrders) FindItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items[orderID]), nil
}

func (f fakeOrders) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	f.orders[id] = o
	return true, nil
}

func (f fakeOrders) HasOpenOrderWithVoucher(ctx context.Context, tx *sql.Tx, h repo.VoucherHold) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.Voucher == nil || !strings.EqualFold(o.Voucher.Code, h.Code) || !o.Status.Open() {
			continue
		}
		if o.CreatedAt.Before(h.IssuedAt) || f.abandoned(o, h.StaleBefore) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (f fakeOrders) FindAbandonedOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if f.abandoned(o, before) {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// abandoned mirrors the SQL filter for unpaid gateway orders. Callers hold mu.
func (s *fakeStore) abandoned(o domain.Order, before time.Time) bool {
	if o.Status != domain.OrderPending || o.PaymentMethod != domain.MethodGateway || !o.CreatedAt.Before(before) {
		return false
	}
	for _, p := range s.payments {
		if p.OrderID == o.ID && (p.Status == domain.PaymentPending || p.Status == domain.PaymentCompleted) {
			return false
		}
	}
	return true
}

// payments

type fakePayments struct{ *fakeStore }

var _ repo.PaymentRepo = fakePayments{}

func (f fakePayments) CreatePayment(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.payments {
		if existing.OrderID == p.OrderID && existing.Method == p.Method &&
			(existing.Status == domain.PaymentPending || existing.Status == domain.PaymentCompleted) {
			return errors.New("duplicate active payment")
		}
	}
	f.payments[p.ID] = *p
	f.paymentOrder = append(slices.Clone(f.paymentOrder), p.ID)
	return nil
}

// latest walks payments newest first and returns the first that keep accepts.
func (f fakePayments) latest(keep func(domain.Payment) bool) *domain.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.paymentOrder) - 1; i >= 0; i-- {
		p := f.payments[f.paymentOrder[i]]
		if keep(p) {
			return &p
		}
	}
	return nil
}

func (f fakePayments) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	return f.latest(func(p domain.Payment) bool { return p.ID == id }), nil
}

func (f fakePayments) FindActiveByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Payment, error) {
	return f.latest(func(p domain.Payment) bool {
		return p.OrderID == orderID && p.Method == method &&
			(p.Status == domain.PaymentPending || p.Status == domain.PaymentCompleted)
	}), nil
}

func (f fakePayments) FindLatestByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error) {
	return f.latest(func(p domain.Payment) bool { return p.OrderID == orderID }), nil
}

func (f fakePayments) HasCompleted(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (bool, error) {
	p := f.latest(func(p domain.Payment) bool {
		return p.OrderID == orderID && p.Status == domain.PaymentCompleted
	})
	return p != nil, nil
}

func (f fakePayments) FindByReference(ctx context.Context, tx *sql.Tx, ref string) (*domain.Payment, error) {
	return f.latest(func(p domain.Payment) bool {
		return p.GatewayTransactionRef == ref || p.GatewayProductCode == ref
	}), nil
}

func (f fakePayments) FindByProductCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Payment, error) {
	return f.latest(func(p domain.Payment) bool { return p.GatewayProductCode == code }), nil
}

func (f fakePayments) FindLatestPendingByAmount(ctx context.Context, tx *sql.Tx, amount decimal.Decimal) (*domain.Payment, error) {
	return f.latest(func(p domain.Payment) bool {
		return p.Method == domain.MethodGateway && p.Status == domain.PaymentPending && p.Amount.Equal(amount)
	}), nil
}

func (f fakePayments) AttachGatewaySession(ctx context.Context, tx *sql.Tx, id uuid.UUID, productCode, paymentURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return errors.New("payment not found")
	}
	p.GatewayProductCode, p.PaymentURL = productCode, paymentURL
	f.payments[id] = p
	return nil
}

func (f fakePayments) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, u repo.StatusUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[u.ID]
	if !ok || p.Status != u.From {
		return false, nil
	}
	p.Status = u.To
	if u.TransactionRef != "" {
		p.GatewayTransactionRef = u.TransactionRef
	}
	if u.RawCallback != nil {
		p.RawCallback = u.RawCallback
	}
	f.payments[u.ID] = p
	return true, nil
}

func (f fakePayments) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, id := range f.paymentOrder {
		p := f.payments[id]
		if p.Status == domain.PaymentPending && p.Method == domain.MethodGateway && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// vouchers

type fakeVouchers struct{ *fakeStore }

var _ repo.VoucherRepo = fakeVouchers{}

func (f fakeVouchers) Create(ctx context.Context, tx *sql.Tx, v *domain.Voucher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.vouchers {
		if strings.EqualFold(existing.Code, v.Code) {
			return domain.ErrVoucherCodeTaken
		}
	}
	f.vouchers[v.ID] = *v
	return nil
}

func (f fakeVouchers) FindByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vouchers {
		if strings.EqualFold(v.Code, code) {
			return &v, nil
		}
	}
	return nil, nil
}

func (f fakeVouchers) LockByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Voucher, error) {
	return f.FindByCode(ctx, tx, code)
}

func (f fakeVouchers) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f fakeVouchers) List(ctx context.Context, tx *sql.Tx) ([]domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Collect(maps.Values(f.vouchers)), nil
}

func (f fakeVouchers) SetActive(ctx context.Context, tx *sql.Tx, id uuid.UUID, active bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[id]
	if !ok {
		return false, nil
	}
	v.IsActive = active
	f.vouchers[id] = v
	return true, nil
}

func (f fakeVouchers) DeleteUnused(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[id]
	if !ok || v.IsUsed {
		return false, nil
	}
	delete(f.vouchers, id)
	return true, nil
}

func (f fakeVouchers) MarkUsed(ctx context.Context, tx *sql.Tx, code string, orderID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, v := range f.vouchers {
		if strings.EqualFold(v.Code, code) && !v.IsUsed {
			v.IsUsed = true
			v.UsedAt = &at
			v.UsedOrderID = uuid.NullUUID{UUID: orderID, Valid: true}
			f.vouchers[id] = v
			return true, nil
		}
	}
	return false, nil
}

// gateway and cache

type failingGateway struct{ err error }

func (g failingGateway) CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error) {
	return nil, g.err
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]string)} }

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value.(string)
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *fakeCache) GenerateKey(operation, key string) string { return "test:" + operation + ":" + key }
func (c *fakeCache) Ping(ctx context.Context) error           { return nil }
func (c *fakeCache) Close() error                             { return nil }

// clock

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const (
	checksumKey    = "test-checksum"
	pendingTimeout = 30 * time.Minute
)

type harness struct {
	store    *fakeStore
	clock    *fakeClock
	gateway  *payment.MockGateway
	cache    *fakeCache
	pricing  *PricingValidator
	vouchers VoucherService
	orders   OrderService
	payments PaymentService
	expirer  *Expirer
	recon    Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithGateway(t, nil)
}

// newHarnessWithGateway wires every service over one fakeStore. A nil gw
// uses a MockGateway.
func newHarnessWithGateway(t *testing.T, gw payment.PaymentGateway) *harness {
	t.Helper()
	store := newFakeStore()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mock := payment.NewMockGateway(checksumKey, 0)
	if gw == nil {
		gw = mock
	}
	dedupe := newFakeCache()

	orders, payments, vouchers := fakeOrders{store}, fakePayments{store}, fakeVouchers{store}

	voucherSvc := NewVoucherService(store, vouchers, orders, pendingTimeout)
	voucherSvc.(*voucherService).now = clk.Now

	pricing := NewPricingValidator(fakeCatalog{store})

	orderSvc := NewOrderService(store, orders, payments, pricing, voucherSvc)
	orderSvc.(*orderService).now = clk.Now

	expirer := NewExpirer(store, orders, payments, pendingTimeout)
	expirer.now = clk.Now

	paymentSvc := NewPaymentService(store, orders, payments, gw, expirer, time.Second)
	paymentSvc.(*paymentService).now = clk.Now

	recon := NewReconciler(store, orders, payments, voucherSvc, payment.NewVerifier(checksumKey), dedupe, time.Hour)
	recon.(*reconciler).now = clk.Now

	return &harness{
		store:    store,
		clock:    clk,
		gateway:  mock,
		cache:    dedupe,
		pricing:  pricing,
		vouchers: voucherSvc,
		orders:   orderSvc,
		payments: paymentSvc,
		expirer:  expirer,
		recon:    recon,
	}
}

var testContact = domain.Contact{
	Name:            "Jordan Lee",
	Phone:           "0900000000",
	Email:           "jordan@example.com",
	ShippingAddress: "12 Market Street",
}

func (h *harness) addVoucher(t *testing.T, code string, dt domain.DiscountType, value string, owner uuid.UUID) *domain.Voucher {
	t.Helper()
	v, err := h.vouchers.Create(context.Background(), CreateVoucherInput{
		Code:          code,
		DiscountType:  dt,
		DiscountValue: decimal.RequireFromString(value),
		CustomerID:    owner,
	})
	if err != nil {
		t.Fatalf("create voucher: %v", err)
	}
	return v
}

// placeGatewayOrder creates a gateway order for customer and initiates its payment.
func (h *harness) placeGatewayOrder(t *testing.T, customer uuid.UUID, productID uuid.UUID, voucher string) (*domain.Order, *Initiation) {
	t.Helper()
	ctx := context.Background()
	order, err := h.orders.CreateOrder(ctx, CreateOrderInput{
		CustomerID:    uuid.NullUUID{UUID: customer, Valid: true},
		Items:         []ItemInput{{ProductID: productID, Quantity: 1}},
		VoucherCode:   voucher,
		ShippingFee:   decimal.Zero,
		PaymentMethod: domain.MethodGateway,
		Contact:       testContact,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	started, err := h.payments.Initiate(ctx, InitiateInput{
		OrderID:   order.ID,
		Amount:    order.Total,
		Requester: Requester{CustomerID: order.CustomerID},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return order, started
}
