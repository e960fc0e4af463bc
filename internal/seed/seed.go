// Package seed loads the sample catalog, promo codes and API keys into a
// store. seed-db uses it against a database; pos-server uses it to fill the
// memory store in demo mode.
package seed

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

type productJSON struct {
	Barcode  string          `json:"barcode"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	LowStock bool            `json:"low_stock"`
	ImageURL string          `json:"image_url"`
}

// ParseProducts decodes a JSON array of products and validates each one.
func ParseProducts(data []byte) ([]product.Product, error) {
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	out := make([]product.Product, 0, len(raw))
	for i, r := range raw {
		p := product.Product{
			Barcode:  r.Barcode,
			Name:     r.Name,
			Price:    r.Price,
			Quantity: r.Quantity,
			LowStock: r.LowStock,
			ImageURL: r.ImageURL,
		}
		if err := p.Validate(); err != nil {
			return nil, errors.Wrapf(err, "product %d (%s)", i, r.Barcode)
		}
		out = append(out, p)
	}
	return out, nil
}

// Result counts what a load changed.
type Result struct {
	Created int
	Skipped int
}

// Products creates every product whose barcode is not in the catalog yet.
// Existing products are left as they are so reseeding never resets stock.
func Products(ctx context.Context, repo product.Repository, products []product.Product) (Result, error) {
	var res Result
	for _, p := range products {
		err := repo.Create(ctx, &p)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, product.ErrDuplicateBarcode):
			res.Skipped++
		default:
			return res, errors.Wrapf(err, "create %s", p.Barcode)
		}
	}
	return res, nil
}

// DefaultPromos are the codes offered out of the box.
func DefaultPromos() []promo.Code {
	return []promo.Code{
		{Code: "WELCOME10", DiscountType: promo.DiscountPercent, Value: decimal.NewFromInt(10), Active: true},
		{Code: "FLAT100", DiscountType: promo.DiscountFixed, Value: decimal.NewFromInt(100), Active: true},
	}
}

// Promos creates the given codes, skipping ones that already exist.
func Promos(ctx context.Context, repo promo.Repository, codes []promo.Code) (Result, error) {
	var res Result
	for _, c := range codes {
		if err := c.Validate(); err != nil {
			return res, errors.Wrapf(err, "promo %s", c.Code)
		}
		err := repo.Create(ctx, &c)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, promo.ErrDuplicateCode):
			res.Skipped++
		default:
			return res, errors.Wrapf(err, "create promo %s", c.Code)
		}
	}
	return res, nil
}

// APIKey stores key for the named user. Upserting by id lets operators rotate
// a key by seeding it again.
func APIKey(ctx context.Context, repo auth.Repository, pepper []byte, id, name string, role auth.Role, key string) error {
	if key == "" {
		return errors.Errorf("empty key for %s", id)
	}
	if !role.Valid() {
		return errors.Errorf("invalid role %q", role)
	}
	k := &auth.APIKey{
		ID:      id,
		KeyHash: auth.HashKey(pepper, key),
		Name:    name,
		Role:    role,
		Active:  true,
	}
	if err := repo.Upsert(ctx, k); err != nil {
		return errors.Wrapf(err, "upsert key %s", id)
	}
	return nil
}
