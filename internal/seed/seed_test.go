package seed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mall-pos/db"
	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/storage/memory"
)

func TestParseProducts(t *testing.T) {
	for _, tt := range []struct {
		name    string
		data    string
		want    int
		wantErr string
	}{
		{name: "Valid", data: `[{"barcode":"1","name":"A","price":"1.50","quantity":2},{"barcode":"2","name":"B","price":3}]`, want: 2},
		{name: "Empty", data: `[]`},
		{name: "NotJSON", data: `{`, wantErr: "decode products"},
		{name: "MissingName", data: `[{"barcode":"1","price":"1"}]`, wantErr: "product 0 (1)"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProducts([]byte(tt.data))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestEmbeddedCatalog(t *testing.T) {
	products, err := ParseProducts(db.Products)
	require.NoError(t, err)
	require.NotEmpty(t, products)

	seen := make(map[string]bool)
	for _, p := range products {
		assert.False(t, seen[p.Barcode], "duplicate barcode %s", p.Barcode)
		seen[p.Barcode] = true
	}
}

func TestProductsSkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	products := []product.Product{
		{Barcode: "1", Name: "A", Price: decimal.NewFromInt(1), Quantity: 5},
		{Barcode: "2", Name: "B", Price: decimal.NewFromInt(2), Quantity: 5},
	}
	res, err := Products(ctx, store, products)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, res)

	_, err = store.AdjustStock(ctx, 1, -3)
	require.NoError(t, err)

	res, err = Products(ctx, store, products)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2}, res)

	p, err := store.FindByBarcode(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quantity, "reseeding keeps stock")
}

func TestPromos(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPromos()

	res, err := Promos(ctx, repo, DefaultPromos())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPromos()), res.Created)

	res, err = Promos(ctx, repo, DefaultPromos())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPromos()), res.Skipped)
}

func TestAPIKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAPIKeys()
	pepper := []byte("pepper")

	require.NoError(t, APIKey(ctx, repo, pepper, "admin", "Admin", auth.RoleAdmin, "k1"))
	k, err := repo.FindByHash(ctx, auth.HashKey(pepper, "k1"))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, k.Role)

	// Rotation replaces the hash.
	require.NoError(t, APIKey(ctx, repo, pepper, "admin", "Admin", auth.RoleAdmin, "k2"))
	_, err = repo.FindByHash(ctx, auth.HashKey(pepper, "k1"))
	assert.ErrorIs(t, err, auth.ErrNotFound)

	assert.Error(t, APIKey(ctx, repo, pepper, "x", "X", auth.Role("root"), "k"))
	assert.Error(t, APIKey(ctx, repo, pepper, "x", "X", auth.RoleCashier, ""))
}
