package redis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/product"
)

func TestLinesCodec(t *testing.T) {
	lines := []cart.Line{
		{
			Product: product.Product{
				ID: 7, Barcode: "CLOTH001", Name: `Denim "Classic" Jacket`,
				Price: decimal.RequireFromString("49.90"), Quantity: 12, ImageURL: "/img/jacket.png",
			},
			Quantity: 2,
		},
		{
			Product:  product.Product{ID: 9, Barcode: "ELEC003", Name: "Cable", Price: decimal.RequireFromString("0.10"), LowStock: true},
			Quantity: 1,
		},
	}

	got, err := decodeLines(encodeLines(lines))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, `Denim "Classic" Jacket`, got[0].Product.Name)
	assert.Equal(t, "49.9", got[0].Product.Price.String())
	assert.Equal(t, 12, got[0].Product.Quantity)
	assert.Equal(t, 2, got[0].Quantity)
	assert.True(t, got[1].Product.LowStock)
	assert.True(t, decimal.RequireFromString("0.10").Equal(got[1].Product.Price))
}

func TestDecodeLinesIgnoresUnknownFields(t *testing.T) {
	got, err := decodeLines([]byte(`[{"product_id":3,"quantity":4,"added_at":"2026-01-01"}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Product.ID)
	assert.Equal(t, 4, got[0].Quantity)
}

func TestDecodeLinesRejectsBadPrice(t *testing.T) {
	_, err := decodeLines([]byte(`[{"product_id":3,"price":"abc"}]`))
	require.Error(t, err)
}
