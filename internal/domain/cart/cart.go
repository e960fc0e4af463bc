// Package cart holds the cashier's in-progress sale. A cart is never shared
// between sessions and is discarded after checkout.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/mall-pos/internal/domain/product"
)

var (
	// ErrInvalidQuantity matches any *InvalidQuantityError.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrLineNotFound is returned when a line operation targets a product
	// that is not in the cart.
	ErrLineNotFound = errors.New("product not in cart")
)

// InvalidQuantityError reports a non-positive line quantity.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("quantity must be greater than 0 for product %d, got %d", e.ProductID, e.Quantity)
	}
	return fmt.Sprintf("quantity must be greater than 0, got %d", e.Quantity)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

// Line is a product snapshot taken at the last scan together with the
// requested quantity.
type Line struct {
	Product  product.Product
	Quantity int
}

// Subtotal is unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered list of lines, at most one per product.
// A Cart is not safe for concurrent use.
type Cart struct {
	finder product.Finder
	lines  []Line
}

// New returns a cart that resolves barcodes through finder, optionally
// restored from previously saved lines.
func New(finder product.Finder, lines ...Line) *Cart {
	c := &Cart{finder: finder}
	for _, l := range lines {
		if i := c.index(l.Product.ID); i >= 0 {
			c.lines[i].Quantity += l.Quantity
			continue
		}
		c.lines = append(c.lines, l)
	}
	return c
}

// AddLine scans a barcode into the cart. Scanning a product already in the
// cart adds to its quantity and refreshes the snapshot. Stock is not checked
// here; checkout does that atomically.
func (c *Cart) AddLine(ctx context.Context, barcode string, quantity int) (Line, error) {
	if quantity <= 0 {
		return Line{}, &InvalidQuantityError{Quantity: quantity}
	}
	p, err := c.finder.FindByBarcode(ctx, barcode)
	if err != nil {
		return Line{}, err
	}

	if i := c.index(p.ID); i >= 0 {
		c.lines[i].Product = *p
		c.lines[i].Quantity += quantity
		return c.lines[i], nil
	}
	line := Line{Product: *p, Quantity: quantity}
	c.lines = append(c.lines, line)
	return line, nil
}

// RemoveLine drops the line for productID. Removing an absent product is a
// no-op.
func (c *Cart) RemoveLine(productID int64) {
	if i := c.index(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

// SetLineQuantity replaces the quantity of an existing line.
func (c *Cart) SetLineQuantity(productID int64, quantity int) error {
	if quantity <= 0 {
		return &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	i := c.index(productID)
	if i < 0 {
		return errors.Wrapf(ErrLineNotFound, "product %d", productID)
	}
	c.lines[i].Quantity = quantity
	return nil
}

// Total sums the line subtotals at snapshot prices.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Lines returns a copy of the cart lines in scan order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len is the number of distinct products.
func (c *Cart) Len() int { return len(c.lines) }

// Units is the total number of items across lines.
func (c *Cart) Units() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// Clear empties the cart.
func (c *Cart) Clear() { c.lines = nil }

func (c *Cart) index(productID int64) int {
	for i := range c.lines {
		if c.lines[i].Product.ID == productID {
			return i
		}
	}
	return -1
}
