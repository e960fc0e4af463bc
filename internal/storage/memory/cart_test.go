package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/product"
)

func TestCarts(t *testing.T) {
	ctx := context.Background()
	carts := NewCarts()

	lines := []cart.Line{{Product: product.Product{ID: 1, Name: "Widget"}, Quantity: 2}}
	require.NoError(t, carts.Save(ctx, "till-1", lines))

	// Callers own the slices they pass in and get back.
	lines[0].Quantity = 99
	got, err := carts.Load(ctx, "till-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Quantity)

	got[0].Quantity = 50
	again, err := carts.Load(ctx, "till-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again[0].Quantity)

	empty, err := carts.Load(ctx, "till-2")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, carts.Delete(ctx, "till-1"))
	got, err = carts.Load(ctx, "till-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
