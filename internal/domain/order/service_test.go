package order

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

// --- Mock implementations ---

// fakeStore is a serialized in-memory catalog with staged transactions.
type fakeStore struct {
	mu        sync.Mutex
	products  map[int64]product.Product
	orders    []*Order
	conflicts int
	createErr error
	txCalls   int
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txCalls++
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConflict
	}
	tx := &fakeTx{products: maps.Clone(f.products), createErr: f.createErr}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	f.products = tx.products
	f.orders = append(f.orders, tx.orders...)
	return nil
}

func (f *fakeStore) quantity(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Quantity
}

type fakeTx struct {
	products  map[int64]product.Product
	orders    []*Order
	createErr error
}

func (t *fakeTx) LockProducts(_ context.Context, ids []int64) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *fakeTx) AdjustStock(_ context.Context, id int64, delta int) error {
	p := t.products[id]
	if p.Quantity+delta < 0 {
		return &product.InsufficientStockError{Shortages: []product.Shortage{
			{ProductID: id, Name: p.Name, Requested: -delta, Available: p.Quantity},
		}}
	}
	p.Quantity += delta
	t.products[id] = p
	return nil
}

func (t *fakeTx) CreateOrder(_ context.Context, o *Order) error {
	if t.createErr != nil {
		return t.createErr
	}
	t.orders = append(t.orders, o)
	return nil
}

type mockHistory struct {
	byKey   []*Order
	keyErr  error
	lookups int
}

func (m *mockHistory) List(context.Context, Filter) ([]Order, error) { return nil, nil }

func (m *mockHistory) Get(context.Context, string) (*Order, error) { return nil, ErrNotFound }

// FindByIdempotencyKey returns byKey entries in call order; a nil entry or an
// exhausted list means not found.
func (m *mockHistory) FindByIdempotencyKey(context.Context, string) (*Order, error) {
	defer func() { m.lookups++ }()
	if m.keyErr != nil {
		return nil, m.keyErr
	}
	if m.lookups >= len(m.byKey) || m.byKey[m.lookups] == nil {
		return nil, ErrNotFound
	}
	return m.byKey[m.lookups], nil
}

type mockPromos struct {
	code *promo.Code
	err  error
}

func (m *mockPromos) Validate(context.Context, string) (*promo.Code, error) {
	return m.code, m.err
}

// --- Helpers ---

var (
	widget = product.Product{ID: 1, Barcode: "111", Name: "Widget", Price: decimal.RequireFromString("9.99"), Quantity: 10}
	gadget = product.Product{ID: 2, Barcode: "222", Name: "Gadget", Price: decimal.RequireFromString("2.50"), Quantity: 2}
)

func newStore(products ...product.Product) *fakeStore {
	m := make(map[int64]product.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &fakeStore{products: m}
}

func newTestService(t *testing.T, store *fakeStore, opts ...Option) *Service {
	t.Helper()
	return newTestServiceWith(t, store, &mockHistory{}, &mockPromos{}, opts...)
}

func newTestServiceWith(t *testing.T, store *fakeStore, history History, promos promo.Validator, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithRetryBackoff(0)}, opts...)
	svc, err := NewService(store, history, promos, opts...)
	require.NoError(t, err)
	return svc
}

func cartOf(lines ...cart.Line) *cart.Cart {
	return cart.New(nil, lines...)
}

func line(p product.Product, qty int) cart.Line {
	return cart.Line{Product: p, Quantity: qty}
}

// --- Tests ---

func TestCheckout_EmptyCart(t *testing.T) {
	store := newStore(widget)
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{Cashier: "ann"})
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(), Cashier: "ann"})
	require.ErrorIs(t, err, ErrEmptyCart)

	assert.Zero(t, store.txCalls)
	assert.Equal(t, 10, store.quantity(widget.ID))
}

func TestCheckout_Success(t *testing.T) {
	store := newStore(widget)
	created := time.Date(2026, 5, 4, 10, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	svc := newTestService(t, store, WithClock(func() time.Time { return created }))

	o, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart:    cartOf(line(widget, 3)),
		Cashier: "ann",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "ann", o.Cashier)
	assert.Equal(t, created.UTC(), o.CreatedAt)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "Widget", o.Lines[0].Name)
	assert.Equal(t, "111", o.Lines[0].Barcode)
	assert.Equal(t, 3, o.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("29.97").Equal(o.Lines[0].Subtotal))
	assert.True(t, decimal.RequireFromString("29.97").Equal(o.Total))
	assert.True(t, o.AmountDue.Equal(o.Total))
	assert.Equal(t, PaymentCash, o.Payment.Method)
	assert.True(t, decimal.Zero.Equal(o.Payment.Change))

	assert.Equal(t, 7, store.quantity(widget.ID))
	assert.Len(t, store.orders, 1)
}

func TestCheckout_TotalIsSumOfSubtotals(t *testing.T) {
	cheap := product.Product{ID: 3, Barcode: "333", Name: "Gum", Price: decimal.RequireFromString("0.10"), Quantity: 100}
	other := product.Product{ID: 4, Barcode: "444", Name: "Mint", Price: decimal.RequireFromString("0.20"), Quantity: 100}
	store := newStore(cheap, other, widget)
	svc := newTestService(t, store)

	o, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart: cartOf(line(cheap, 1), line(other, 1), line(widget, 2)),
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, l := range o.Lines {
		assert.True(t, l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Equal(l.Subtotal))
		sum = sum.Add(l.Subtotal)
	}
	assert.True(t, sum.Equal(o.Total))
	assert.True(t, decimal.RequireFromString("20.28").Equal(o.Total), "got %s", o.Total)
	assert.Equal(t, 99, store.quantity(cheap.ID))
	assert.Equal(t, 99, store.quantity(other.ID))
	assert.Equal(t, 8, store.quantity(widget.ID))
}

func TestCheckout_InsufficientStock(t *testing.T) {
	store := newStore(widget, gadget)
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart: cartOf(line(widget, 1), line(gadget, 5)),
	})

	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 1)
	assert.Equal(t, product.Shortage{ProductID: 2, Name: "Gadget", Requested: 5, Available: 2}, stockErr.Shortages[0])

	assert.Equal(t, 10, store.quantity(widget.ID))
	assert.Equal(t, 2, store.quantity(gadget.ID))
	assert.Empty(t, store.orders)
}

func TestCheckout_InsufficientStockNamesEveryShortage(t *testing.T) {
	store := newStore(widget, gadget)
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart: cartOf(line(widget, 11), line(gadget, 3)),
	})

	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 2)
	assert.Equal(t, int64(1), stockErr.Shortages[0].ProductID)
	assert.Equal(t, int64(2), stockErr.Shortages[1].ProductID)
}

func TestCheckout_ProductDeletedAfterScan(t *testing.T) {
	store := newStore(widget)
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart: cartOf(line(widget, 1), line(gadget, 1)),
	})

	var nf *product.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, gadget.ID, nf.ID)
	assert.Equal(t, 10, store.quantity(widget.ID))
}

func TestCheckout_UsesCurrentPriceNotCartSnapshot(t *testing.T) {
	store := newStore(widget)
	svc := newTestService(t, store)

	stale := widget
	stale.Price = decimal.RequireFromString("1.00")

	o, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(stale, 2))})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("19.98").Equal(o.Total))
}

func TestCheckout_ExactStockLeavesZero(t *testing.T) {
	store := newStore(gadget)
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(gadget, 2))})
	require.NoError(t, err)
	assert.Equal(t, 0, store.quantity(gadget.ID))

	_, err = svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(gadget, 1))})
	require.ErrorIs(t, err, product.ErrInsufficientStock)
	assert.Equal(t, 0, store.quantity(gadget.ID))
}

func TestCheckout_InvalidLineQuantity(t *testing.T) {
	store := newStore(widget)
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(widget, 0))})
	require.ErrorIs(t, err, cart.ErrInvalidQuantity)
	assert.Zero(t, store.txCalls)
}

func TestCheckout_RetriesConflicts(t *testing.T) {
	store := newStore(widget)
	store.conflicts = 2
	svc := newTestService(t, store, WithMaxAttempts(3))

	o, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(widget, 1))})
	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.Equal(t, 3, store.txCalls)
	assert.Len(t, store.orders, 1)
	assert.Equal(t, 9, store.quantity(widget.ID))
}

func TestCheckout_ConflictsExhausted(t *testing.T) {
	store := newStore(widget)
	store.conflicts = 5
	svc := newTestService(t, store, WithMaxAttempts(3))

	_, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(widget, 1))})

	var failed *TransactionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.Attempts)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 10, store.quantity(widget.ID))
	assert.Empty(t, store.orders)
}

func TestCheckout_ContextCancelledDuringBackoff(t *testing.T) {
	store := newStore(widget)
	store.conflicts = 1
	svc := newTestService(t, store, WithRetryBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Checkout(ctx, CheckoutRequest{Cart: cartOf(line(widget, 1))})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, store.txCalls)
}

func TestCheckout_RetryAfterFailureCreatesOneOrder(t *testing.T) {
	store := newStore(gadget)
	svc := newTestService(t, store)
	c := cartOf(line(gadget, 3))

	_, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: c})
	require.ErrorIs(t, err, product.ErrInsufficientStock)

	store.mu.Lock()
	restocked := store.products[gadget.ID]
	restocked.Quantity = 5
	store.products[gadget.ID] = restocked
	store.mu.Unlock()

	_, err = svc.Checkout(context.Background(), CheckoutRequest{Cart: c})
	require.NoError(t, err)
	assert.Len(t, store.orders, 1)
	assert.Equal(t, 2, store.quantity(gadget.ID))
}

func TestCheckout_PromoCode(t *testing.T) {
	store := newStore(widget)
	promos := &mockPromos{code: &promo.Code{Code: "SAVE10", DiscountType: promo.DiscountPercent, Value: decimal.NewFromInt(10), Active: true}}
	svc := newTestServiceWith(t, store, &mockHistory{}, promos)

	o, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart:      cartOf(line(widget, 3)),
		PromoCode: "save10",
	})
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.PromoCode)
	assert.True(t, decimal.RequireFromString("29.97").Equal(o.Total))
	assert.True(t, decimal.RequireFromString("3.00").Equal(o.Discount))
	assert.True(t, decimal.RequireFromString("26.97").Equal(o.AmountDue))
}

func TestCheckout_InvalidPromoCode(t *testing.T) {
	store := newStore(widget)
	svc := newTestServiceWith(t, store, &mockHistory{}, &mockPromos{err: promo.ErrExpired})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart:      cartOf(line(widget, 1)),
		PromoCode: "OLD",
	})
	require.ErrorIs(t, err, promo.ErrExpired)
	assert.Zero(t, store.txCalls)
}

func TestCheckout_Payment(t *testing.T) {
	tests := []struct {
		name       string
		payment    PaymentRequest
		wantErr    error
		wantChange string
	}{
		{name: "cash with change", payment: PaymentRequest{Method: PaymentCash, Tendered: decimal.NewFromInt(50)}, wantChange: "20.03"},
		{name: "cash exact", payment: PaymentRequest{Method: PaymentCash, Tendered: decimal.RequireFromString("29.97")}, wantChange: "0"},
		{name: "cash without tender", payment: PaymentRequest{Method: PaymentCash}, wantChange: "0"},
		{name: "card", payment: PaymentRequest{Method: PaymentCard, Tendered: decimal.NewFromInt(100)}, wantChange: "0"},
		{name: "cash short", payment: PaymentRequest{Method: PaymentCash, Tendered: decimal.NewFromInt(20)}, wantErr: ErrInsufficientPayment},
		{name: "unknown method", payment: PaymentRequest{Method: "cheque"}, wantErr: ErrInvalidPaymentMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(widget)
			svc := newTestService(t, store)

			o, err := svc.Checkout(context.Background(), CheckoutRequest{
				Cart:    cartOf(line(widget, 3)),
				Payment: tt.payment,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 10, store.quantity(widget.ID))
				assert.Empty(t, store.orders)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantChange).Equal(o.Payment.Change), "got %s", o.Payment.Change)
			assert.True(t, o.Payment.Tendered.Sub(o.Payment.Change).Equal(o.AmountDue))
		})
	}
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	store := newStore(widget)
	previous := &Order{ID: "prev", IdempotencyKey: "k1"}
	svc := newTestServiceWith(t, store, &mockHistory{byKey: []*Order{previous}}, &mockPromos{})

	o, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart:           cartOf(line(widget, 1)),
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Same(t, previous, o)
	assert.Zero(t, store.txCalls)
	assert.Equal(t, 10, store.quantity(widget.ID))
}

func TestCheckout_IdempotencyKeyOfAnotherCashier(t *testing.T) {
	for _, tt := range []struct {
		name    string
		byKey   []*Order
		lookups int
	}{
		{name: "Replay", byKey: []*Order{{ID: "prev", Cashier: "bob", IdempotencyKey: "k1"}}, lookups: 1},
		{name: "ConcurrentSubmission", byKey: []*Order{nil, {ID: "winner", Cashier: "bob", IdempotencyKey: "k1"}}, lookups: 2},
	} {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(widget)
			if len(tt.byKey) > 1 {
				store.createErr = ErrDuplicateSubmission
			}
			history := &mockHistory{byKey: tt.byKey}
			svc := newTestServiceWith(t, store, history, &mockPromos{})

			o, err := svc.Checkout(context.Background(), CheckoutRequest{
				Cart:           cartOf(line(widget, 1)),
				Cashier:        "alice",
				IdempotencyKey: "k1",
			})
			require.ErrorIs(t, err, ErrKeyInUse)
			assert.Nil(t, o)
			assert.Equal(t, tt.lookups, history.lookups)
			assert.Equal(t, 10, store.quantity(widget.ID))
		})
	}
}

func TestCheckout_ConcurrentDuplicateSubmission(t *testing.T) {
	store := newStore(widget)
	store.createErr = ErrDuplicateSubmission
	winner := &Order{ID: "winner", IdempotencyKey: "k1"}
	history := &mockHistory{byKey: []*Order{nil, winner}}
	svc := newTestServiceWith(t, store, history, &mockPromos{})

	o, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart:           cartOf(line(widget, 1)),
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Same(t, winner, o)
	assert.Equal(t, 2, history.lookups)
	assert.Equal(t, 10, store.quantity(widget.ID))
}

func TestCheckout_IdempotencyLookupError(t *testing.T) {
	store := newStore(widget)
	svc := newTestServiceWith(t, store, &mockHistory{keyErr: errors.New("timeout")}, &mockPromos{})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Cart:           cartOf(line(widget, 1)),
		IdempotencyKey: "k1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup idempotency key")
}

func TestCheckout_CreateOrderFailureRollsBack(t *testing.T) {
	store := newStore(widget)
	store.createErr = errors.New("disk full")
	svc := newTestService(t, store)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(widget, 2))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 10, store.quantity(widget.ID))
}

func TestCheckout_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	stock := widget
	stock.Quantity = 5
	store := newStore(stock)
	svc := newTestService(t, store)

	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Checkout(context.Background(), CheckoutRequest{Cart: cartOf(line(stock, 3))})
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, product.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 2, store.quantity(stock.ID))
	assert.Len(t, store.orders, 1)
}

func TestPaymentSettle(t *testing.T) {
	p, err := PaymentRequest{Method: PaymentWallet}.Settle(decimal.RequireFromString("4.50"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.50").Equal(p.Tendered))

	_, err = PaymentRequest{Tendered: decimal.NewFromInt(1)}.Settle(decimal.NewFromInt(2))
	var payErr *InsufficientPaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, "tendered 1.00 is less than amount due 2.00", payErr.Error())
}

func TestParsePaymentMethod(t *testing.T) {
	m, err := ParsePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, PaymentCash, m)

	m, err = ParsePaymentMethod("upi")
	require.NoError(t, err)
	assert.Equal(t, PaymentUPI, m)

	_, err = ParsePaymentMethod("barter")
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
}
