package cart

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mall-pos/internal/domain/product"
)

type mockFinder struct {
	byBarcode map[string]product.Product
	err       error
	calls     int
}

func (m *mockFinder) FindByBarcode(_ context.Context, barcode string) (*product.Product, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byBarcode[barcode]
	if !ok {
		return nil, &product.NotFoundError{Barcode: barcode}
	}
	return &p, nil
}

func newFinder(products ...product.Product) *mockFinder {
	m := &mockFinder{byBarcode: make(map[string]product.Product, len(products))}
	for _, p := range products {
		m.byBarcode[p.Barcode] = p
	}
	return m
}

var (
	widget = product.Product{ID: 1, Barcode: "111", Name: "Widget", Price: decimal.RequireFromString("9.99"), Quantity: 10}
	gadget = product.Product{ID: 2, Barcode: "222", Name: "Gadget", Price: decimal.RequireFromString("0.10"), Quantity: 3}
)

func TestAddLine(t *testing.T) {
	ctx := context.Background()
	c := New(newFinder(widget, gadget))

	line, err := c.AddLine(ctx, "111", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.Product.ID)
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, decimal.RequireFromString("29.97").Equal(line.Subtotal()))

	_, err = c.AddLine(ctx, "222", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.True(t, decimal.RequireFromString("30.07").Equal(c.Total()))
}

func TestAddLine_SameProductMerges(t *testing.T) {
	ctx := context.Background()
	c := New(newFinder(widget))

	_, err := c.AddLine(ctx, "111", 2)
	require.NoError(t, err)
	line, err := c.AddLine(ctx, "111", 3)
	require.NoError(t, err)

	assert.Equal(t, 5, line.Quantity)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 5, c.Units())
}

func TestAddLine_RefreshesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFinder(widget)
	c := New(f)

	_, err := c.AddLine(ctx, "111", 1)
	require.NoError(t, err)

	repriced := widget
	repriced.Price = decimal.RequireFromString("8.00")
	f.byBarcode["111"] = repriced

	_, err = c.AddLine(ctx, "111", 1)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("16.00").Equal(c.Total()))
}

func TestAddLine_DoesNotCheckStock(t *testing.T) {
	c := New(newFinder(gadget))
	line, err := c.AddLine(context.Background(), "222", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, line.Quantity)
}

func TestAddLine_UnknownBarcode(t *testing.T) {
	c := New(newFinder())
	_, err := c.AddLine(context.Background(), "999", 1)
	require.ErrorIs(t, err, product.ErrNotFound)
	assert.True(t, c.IsEmpty())
}

func TestAddLine_InvalidQuantity(t *testing.T) {
	for _, qty := range []int{0, -1} {
		f := newFinder(widget)
		c := New(f)
		_, err := c.AddLine(context.Background(), "111", qty)

		var qerr *InvalidQuantityError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, qty, qerr.Quantity)
		assert.True(t, errors.Is(err, ErrInvalidQuantity))
		assert.True(t, c.IsEmpty())
		assert.Zero(t, f.calls)
	}
}

func TestAddLine_FinderError(t *testing.T) {
	f := &mockFinder{err: errors.New("db down")}
	_, err := New(f).AddLine(context.Background(), "111", 1)
	require.EqualError(t, err, "db down")
}

func TestRemoveLine(t *testing.T) {
	c := New(nil,
		Line{Product: widget, Quantity: 1},
		Line{Product: gadget, Quantity: 2},
	)

	c.RemoveLine(42)
	assert.Equal(t, 2, c.Len())

	c.RemoveLine(widget.ID)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, gadget.ID, c.Lines()[0].Product.ID)
}

func TestSetLineQuantity(t *testing.T) {
	c := New(nil, Line{Product: widget, Quantity: 1})

	require.NoError(t, c.SetLineQuantity(widget.ID, 4))
	assert.Equal(t, 4, c.Units())

	err := c.SetLineQuantity(widget.ID, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, 4, c.Units())

	err = c.SetLineQuantity(gadget.ID, 2)
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestTotal(t *testing.T) {
	tests := []struct {
		name  string
		lines []Line
		want  string
	}{
		{name: "empty", want: "0"},
		{name: "single", lines: []Line{{Product: widget, Quantity: 3}}, want: "29.97"},
		{
			name: "no float drift",
			lines: []Line{
				{Product: gadget, Quantity: 1},
				{Product: product.Product{ID: 3, Price: decimal.RequireFromString("0.20")}, Quantity: 1},
			},
			want: "0.30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil, tt.lines...)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(c.Total()), "got %s", c.Total())
		})
	}
}

func TestNew_MergesRestoredDuplicates(t *testing.T) {
	c := New(nil,
		Line{Product: widget, Quantity: 1},
		Line{Product: widget, Quantity: 2},
	)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 3, c.Units())
}

func TestLinesIsCopy(t *testing.T) {
	c := New(nil, Line{Product: widget, Quantity: 1})
	lines := c.Lines()
	lines[0].Quantity = 99
	assert.Equal(t, 1, c.Units())
}

func TestClear(t *testing.T) {
	c := New(nil, Line{Product: widget, Quantity: 1})
	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.True(t, decimal.Zero.Equal(c.Total()))
}
