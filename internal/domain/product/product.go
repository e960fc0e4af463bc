package product

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrDuplicateBarcode is returned when a barcode is already assigned to
	// another product.
	ErrDuplicateBarcode = errors.New("barcode already exists")
	// ErrInsufficientStock matches any *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is a sellable catalog item identified by a unique barcode.
type Product struct {
	ID       int64
	Barcode  string
	Name     string
	Price    decimal.Decimal
	Quantity int
	LowStock bool
	ImageURL string
}

// Filter narrows catalog listings. Query matches name or barcode,
// case-insensitively.
type Filter struct {
	Query        string
	LowStockOnly bool
	Limit        int
}

// Finder resolves a scanned barcode to a product.
type Finder interface {
	FindByBarcode(ctx context.Context, barcode string) (*Product, error)
}

// Repository defines catalog persistence.
//
// Update never changes Quantity: stock moves only through AdjustStock, which
// refuses any delta that would leave quantity below zero.
type Repository interface {
	Finder
	GetByID(ctx context.Context, id int64) (*Product, error)
	List(ctx context.Context, f Filter) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id int64) error
	SetLowStock(ctx context.Context, id int64, low bool) error
	AdjustStock(ctx context.Context, id int64, delta int) (*Product, error)
}

// NotFoundError identifies the missing product by ID or barcode.
type NotFoundError struct {
	ID      int64
	Barcode string
}

func (e *NotFoundError) Error() string {
	if e.Barcode != "" {
		return fmt.Sprintf("product with barcode %q not found", e.Barcode)
	}
	return fmt.Sprintf("product %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Shortage describes one product that cannot cover the requested quantity.
type Shortage struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

// InsufficientStockError lists every product whose quantity-on-hand is below
// what was requested.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		parts[i] = fmt.Sprintf("%s (requested %d, available %d)", s.Name, s.Requested, s.Available)
	}
	return "insufficient stock for " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ValidationError reports an invalid product field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the invariants a product must satisfy before it is stored.
func (p *Product) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Barcode = strings.TrimSpace(p.Barcode)
	switch {
	case p.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case p.Barcode == "":
		return &ValidationError{Field: "barcode", Reason: "must not be empty"}
	case p.Price.IsNegative():
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	case !p.Price.Equal(p.Price.Truncate(2)):
		return &ValidationError{Field: "price", Reason: "must be in whole cents"}
	case p.Quantity < 0:
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}
