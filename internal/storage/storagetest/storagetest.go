// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

// Backend is one storage implementation under test.
type Backend struct {
	Products product.Repository
	Orders   order.History
	Runner   order.TxRunner
	Promos   promo.Repository
	APIKeys  auth.Repository
}

// Run executes the suite. newBackend must return an empty store for every call.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("Products", func(t *testing.T) { testProducts(t, newBackend(t)) })
	t.Run("ProductList", func(t *testing.T) { testProductList(t, newBackend(t)) })
	t.Run("AdjustStock", func(t *testing.T) { testAdjustStock(t, newBackend(t)) })
	t.Run("Checkout", func(t *testing.T) { testCheckout(t, newBackend(t)) })
	t.Run("CheckoutInsufficientStock", func(t *testing.T) { testCheckoutInsufficientStock(t, newBackend(t)) })
	t.Run("LineSnapshots", func(t *testing.T) { testLineSnapshots(t, newBackend(t)) })
	t.Run("CheckoutIdempotent", func(t *testing.T) { testCheckoutIdempotent(t, newBackend(t)) })
	t.Run("ConcurrentCheckout", func(t *testing.T) { testConcurrentCheckout(t, newBackend(t)) })
	t.Run("OrderHistory", func(t *testing.T) { testOrderHistory(t, newBackend(t)) })
	t.Run("Promos", func(t *testing.T) { testPromos(t, newBackend(t)) })
	t.Run("APIKeys", func(t *testing.T) { testAPIKeys(t, newBackend(t)) })
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createProduct(t *testing.T, b Backend, barcode, name, price string, qty int) product.Product {
	t.Helper()
	p := product.Product{Barcode: barcode, Name: name, Price: money(price), Quantity: qty}
	require.NoError(t, b.Products.Create(context.Background(), &p))
	require.NotZero(t, p.ID)
	return p
}

func newService(t *testing.T, b Backend, opts ...order.Option) *order.Service {
	t.Helper()
	svc, err := order.NewService(b.Runner, b.Orders, promo.NewRepoValidator(b.Promos), opts...)
	require.NoError(t, err)
	return svc
}

func cartOf(t *testing.T, b Backend, lines map[string]int) *cart.Cart {
	t.Helper()
	c := cart.New(b.Products)
	for barcode, qty := range lines {
		_, err := c.AddLine(context.Background(), barcode, qty)
		require.NoError(t, err)
	}
	return c
}

func stockOf(t *testing.T, b Backend, id int64) int {
	t.Helper()
	p, err := b.Products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func testProducts(t *testing.T, b Backend) {
	ctx := context.Background()
	p := createProduct(t, b, "111", "Widget", "9.99", 10)

	got, err := b.Products.FindByBarcode(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Widget", got.Name)
	assert.True(t, money("9.99").Equal(got.Price))
	assert.Equal(t, 10, got.Quantity)

	dup := product.Product{Barcode: "111", Name: "Other", Price: money("1")}
	require.ErrorIs(t, b.Products.Create(ctx, &dup), product.ErrDuplicateBarcode)

	_, err = b.Products.FindByBarcode(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)
	_, err = b.Products.GetByID(ctx, p.ID+100)
	require.ErrorIs(t, err, product.ErrNotFound)

	update := *got
	update.Name = "Widget Pro"
	update.Price = money("12.50")
	update.Quantity = 999
	require.NoError(t, b.Products.Update(ctx, &update))
	assert.Equal(t, 10, update.Quantity, "update must not change stock")

	got, err = b.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", got.Name)
	assert.True(t, money("12.50").Equal(got.Price))
	assert.Equal(t, 10, got.Quantity)

	other := createProduct(t, b, "222", "Gadget", "1.00", 1)
	other.Barcode = "111"
	require.ErrorIs(t, b.Products.Update(ctx, &other), product.ErrDuplicateBarcode)

	require.NoError(t, b.Products.SetLowStock(ctx, p.ID, true))
	got, err = b.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.LowStock)

	require.NoError(t, b.Products.Delete(ctx, p.ID))
	require.ErrorIs(t, b.Products.Delete(ctx, p.ID), product.ErrNotFound)
	require.ErrorIs(t, b.Products.SetLowStock(ctx, p.ID, false), product.ErrNotFound)
}

func testProductList(t *testing.T, b Backend) {
	ctx := context.Background()
	createProduct(t, b, "CLOTH001", "Denim Jacket", "49.90", 5)
	createProduct(t, b, "GROC001", "Basmati Rice", "7.25", 40)
	low := createProduct(t, b, "ELEC001", "USB Cable", "3.00", 2)
	require.NoError(t, b.Products.SetLowStock(ctx, low.ID, true))

	all, err := b.Products.List(ctx, product.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Basmati Rice", "Denim Jacket", "USB Cable"}, names(all))

	byName, err := b.Products.List(ctx, product.Filter{Query: "denim"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Denim Jacket"}, names(byName))

	byBarcode, err := b.Products.List(ctx, product.Filter{Query: "groc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Basmati Rice"}, names(byBarcode))

	lowOnly, err := b.Products.List(ctx, product.Filter{LowStockOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"USB Cable"}, names(lowOnly))

	limited, err := b.Products.List(ctx, product.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func names(products []product.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}

func testAdjustStock(t *testing.T, b Backend) {
	ctx := context.Background()
	p := createProduct(t, b, "111", "Widget", "9.99", 2)

	got, err := b.Products.AdjustStock(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)

	_, err = b.Products.AdjustStock(ctx, p.ID, -8)
	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 1)
	assert.Equal(t, 8, stockErr.Shortages[0].Requested)
	assert.Equal(t, 7, stockErr.Shortages[0].Available)
	assert.Equal(t, 7, stockOf(t, b, p.ID))

	got, err = b.Products.AdjustStock(ctx, p.ID, -7)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)

	_, err = b.Products.AdjustStock(ctx, p.ID+100, 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func testCheckout(t *testing.T, b Backend) {
	ctx := context.Background()
	widget := createProduct(t, b, "111", "Widget", "9.99", 10)
	gadget := createProduct(t, b, "222", "Gadget", "0.10", 3)

	svc := newService(t, b)
	o, err := svc.Checkout(ctx, order.CheckoutRequest{
		Cart:    cartOf(t, b, map[string]int{"111": 3, "222": 3}),
		Cashier: "alice",
		Payment: order.PaymentRequest{Method: order.PaymentCash, Tendered: money("50")},
	})
	require.NoError(t, err)
	assert.True(t, money("30.27").Equal(o.Total))
	assert.True(t, money("19.73").Equal(o.Payment.Change))

	assert.Equal(t, 7, stockOf(t, b, widget.ID))
	assert.Equal(t, 0, stockOf(t, b, gadget.ID))

	stored, err := b.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Cashier)
	assert.True(t, money("30.27").Equal(stored.Total))
	assert.True(t, money("30.27").Equal(stored.AmountDue))
	assert.Equal(t, order.PaymentCash, stored.Payment.Method)
	assert.True(t, money("50").Equal(stored.Payment.Tendered))
	assert.WithinDuration(t, o.CreatedAt, stored.CreatedAt, time.Millisecond)
	require.Len(t, stored.Lines, 2)

	sum := decimal.Zero
	for _, l := range stored.Lines {
		assert.True(t, l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Equal(l.Subtotal))
		sum = sum.Add(l.Subtotal)
	}
	assert.True(t, sum.Equal(stored.Total))

	// History keeps the sale after the product leaves the catalog.
	require.NoError(t, b.Products.Delete(ctx, widget.ID))
	stored, err = b.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)

	_, err = b.Orders.Get(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func testLineSnapshots(t *testing.T, b Backend) {
	ctx := context.Background()
	widget := createProduct(t, b, "111", "Widget", "9.99", 10)

	svc := newService(t, b)
	o, err := svc.Checkout(ctx, order.CheckoutRequest{
		Cart:    cartOf(t, b, map[string]int{"111": 3}),
		Cashier: "alice",
	})
	require.NoError(t, err)

	assertSaleTime := func(t *testing.T) {
		t.Helper()
		stored, err := b.Orders.Get(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, stored.Lines, 1)
		l := stored.Lines[0]
		assert.Equal(t, widget.ID, l.ProductID)
		assert.Equal(t, "111", l.Barcode)
		assert.Equal(t, "Widget", l.Name)
		assert.Equal(t, 3, l.Quantity)
		assert.True(t, money("9.99").Equal(l.UnitPrice), "unit price %s", l.UnitPrice)
		assert.True(t, money("29.97").Equal(l.Subtotal), "subtotal %s", l.Subtotal)
		assert.True(t, money("29.97").Equal(stored.Total), "total %s", stored.Total)
	}

	edited := widget
	edited.Name = "Widget Deluxe"
	edited.Price = money("19.50")
	require.NoError(t, b.Products.Update(ctx, &edited))
	got, err := b.Products.GetByID(ctx, widget.ID)
	require.NoError(t, err)
	require.Equal(t, "Widget Deluxe", got.Name)
	assertSaleTime(t)

	require.NoError(t, b.Products.Delete(ctx, widget.ID))
	assertSaleTime(t)
}

func testCheckoutInsufficientStock(t *testing.T, b Backend) {
	ctx := context.Background()
	widget := createProduct(t, b, "111", "Widget", "9.99", 2)
	gadget := createProduct(t, b, "222", "Gadget", "1.00", 10)

	svc := newService(t, b)
	_, err := svc.Checkout(ctx, order.CheckoutRequest{
		Cart:    cartOf(t, b, map[string]int{"111": 5, "222": 1}),
		Cashier: "alice",
	})
	require.ErrorIs(t, err, product.ErrInsufficientStock)

	assert.Equal(t, 2, stockOf(t, b, widget.ID))
	assert.Equal(t, 10, stockOf(t, b, gadget.ID))

	orders, err := b.Orders.List(ctx, order.Filter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	// A corrected retry succeeds exactly once.
	o, err := svc.Checkout(ctx, order.CheckoutRequest{
		Cart:    cartOf(t, b, map[string]int{"111": 2}),
		Cashier: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, b, widget.ID))

	orders, err = b.Orders.List(ctx, order.Filter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)
}

func testCheckoutIdempotent(t *testing.T, b Backend) {
	ctx := context.Background()
	widget := createProduct(t, b, "111", "Widget", "9.99", 10)

	svc := newService(t, b)
	req := order.CheckoutRequest{
		Cart:           cartOf(t, b, map[string]int{"111": 2}),
		Cashier:        "alice",
		IdempotencyKey: "till-1-0001",
	}
	first, err := svc.Checkout(ctx, req)
	require.NoError(t, err)
	second, err := svc.Checkout(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, stockOf(t, b, widget.ID))

	found, err := b.Orders.FindByIdempotencyKey(ctx, "till-1-0001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = b.Orders.FindByIdempotencyKey(ctx, "unknown")
	require.ErrorIs(t, err, order.ErrNotFound)

	other := req
	other.Cashier = "bob"
	_, err = svc.Checkout(ctx, other)
	require.ErrorIs(t, err, order.ErrKeyInUse)
	assert.Equal(t, 8, stockOf(t, b, widget.ID))
}

func testConcurrentCheckout(t *testing.T, b Backend) {
	ctx := context.Background()
	widget := createProduct(t, b, "111", "Widget", "9.99", 5)

	svc := newService(t, b, order.WithRetryBackoff(time.Millisecond), order.WithMaxAttempts(5))

	const buyers = 2
	var (
		wg   sync.WaitGroup
		errs = make([]error, buyers)
	)
	for i := range buyers {
		c := cartOf(t, b, map[string]int{"111": 3})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Checkout(ctx, order.CheckoutRequest{Cart: c, Cashier: fmt.Sprintf("till-%d", i)})
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var failed *order.TransactionFailedError
		if !errors.Is(err, product.ErrInsufficientStock) && !errors.As(err, &failed) {
			t.Errorf("unexpected checkout error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, stockOf(t, b, widget.ID))

	orders, err := b.Orders.List(ctx, order.Filter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func testOrderHistory(t *testing.T, b Backend) {
	ctx := context.Background()
	createProduct(t, b, "111", "Widget", "1.00", 100)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	checkout := func(at time.Time, cashier string, method order.PaymentMethod) *order.Order {
		t.Helper()
		svc := newService(t, b, order.WithClock(func() time.Time { return at }))
		o, err := svc.Checkout(ctx, order.CheckoutRequest{
			Cart:    cartOf(t, b, map[string]int{"111": 1}),
			Cashier: cashier,
			Payment: order.PaymentRequest{Method: method},
		})
		require.NoError(t, err)
		return o
	}
	first := checkout(base, "alice", order.PaymentCash)
	second := checkout(base.Add(time.Hour), "bob", order.PaymentCard)
	third := checkout(base.Add(2*time.Hour), "alice", order.PaymentUPI)

	all, err := b.Orders.List(ctx, order.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, orderIDs(all))
	for _, o := range all {
		assert.Len(t, o.Lines, 1)
	}

	tests := []struct {
		name   string
		filter order.Filter
		want   []string
	}{
		{"cashier", order.Filter{Cashier: "alice"}, []string{third.ID, first.ID}},
		{"payment method", order.Filter{PaymentMethod: order.PaymentCard}, []string{second.ID}},
		{"from inclusive", order.Filter{From: base.Add(time.Hour)}, []string{third.ID, second.ID}},
		{"to exclusive", order.Filter{To: base.Add(time.Hour)}, []string{first.ID}},
		{"limit", order.Filter{Limit: 1}, []string{third.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Orders.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, orderIDs(got))
		})
	}
}

func orderIDs(orders []order.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func testPromos(t *testing.T, b Backend) {
	ctx := context.Background()
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	save10 := promo.Code{Code: "SAVE10", DiscountType: promo.DiscountPercent, Value: money("10"), Active: true, ExpiresAt: &expires}
	require.NoError(t, b.Promos.Create(ctx, &save10))
	flat := promo.Code{Code: "FLAT5", DiscountType: promo.DiscountFixed, Value: money("5"), Active: true}
	require.NoError(t, b.Promos.Create(ctx, &flat))
	require.ErrorIs(t, b.Promos.Create(ctx, &flat), promo.ErrDuplicateCode)

	got, err := b.Promos.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, promo.DiscountPercent, got.DiscountType)
	assert.True(t, money("10").Equal(got.Value))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	_, err = b.Promos.FindByCode(ctx, "NOPE")
	require.ErrorIs(t, err, promo.ErrInvalidCode)

	require.NoError(t, b.Promos.SetActive(ctx, "FLAT5", false))
	got, err = b.Promos.FindByCode(ctx, "FLAT5")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Nil(t, got.ExpiresAt)
	require.ErrorIs(t, b.Promos.SetActive(ctx, "NOPE", true), promo.ErrInvalidCode)

	all, err := b.Promos.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "FLAT5", all[0].Code)

	createProduct(t, b, "111", "Widget", "9.99", 10)
	o, err := newService(t, b).Checkout(ctx, order.CheckoutRequest{
		Cart:      cartOf(t, b, map[string]int{"111": 3}),
		Cashier:   "alice",
		PromoCode: "save10",
	})
	require.NoError(t, err)
	stored, err := b.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", stored.PromoCode)
	assert.True(t, money("3.00").Equal(stored.Discount))
	assert.True(t, money("26.97").Equal(stored.AmountDue))
}

func testAPIKeys(t *testing.T, b Backend) {
	ctx := context.Background()
	pepper := []byte("pepper")

	key := auth.APIKey{ID: "cashier-1", KeyHash: auth.HashKey(pepper, "secret"), Name: "Alice", Role: auth.RoleCashier, Active: true}
	require.NoError(t, b.APIKeys.Upsert(ctx, &key))

	got, err := b.APIKeys.FindByHash(ctx, auth.HashKey(pepper, "secret"))
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, auth.RoleCashier, got.Role)

	key.Active = false
	require.NoError(t, b.APIKeys.Upsert(ctx, &key))
	_, err = b.APIKeys.FindByHash(ctx, key.KeyHash)
	require.ErrorIs(t, err, auth.ErrNotFound)

	_, err = b.APIKeys.FindByHash(ctx, auth.HashKey(pepper, "wrong"))
	require.ErrorIs(t, err, auth.ErrNotFound)
}
