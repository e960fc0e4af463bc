// Package promo implements discount codes redeemable at checkout.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercent takes a percentage off the order total.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed takes a fixed amount off, capped at the order total.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidCode is returned for unknown or deactivated codes.
	ErrInvalidCode = errors.New("invalid promo code")
	// ErrExpired is returned when a code is past its expiry.
	ErrExpired = errors.New("promo code expired")
	// ErrDuplicateCode is returned when creating a code that already exists.
	ErrDuplicateCode = errors.New("promo code already exists")
	// ErrInvalidRule is returned when a code's type or value is unusable.
	ErrInvalidRule = errors.New("invalid promo rule")
)

// Code is a redeemable discount.
type Code struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	Active       bool
	ExpiresAt    *time.Time
}

// Repository provides promo code storage. Codes are stored normalized.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
	List(ctx context.Context) ([]Code, error)
	Create(ctx context.Context, c *Code) error
	SetActive(ctx context.Context, code string, active bool) error
}

var hundred = decimal.NewFromInt(100)

// Normalize trims and upper-cases a code as entered at the till.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks that the rule can be applied.
func (c *Code) Validate() error {
	c.Code = Normalize(c.Code)
	if c.Code == "" {
		return errors.Wrap(ErrInvalidRule, "code is empty")
	}
	if !c.Value.IsPositive() {
		return errors.Wrap(ErrInvalidRule, "value must be positive")
	}
	if !c.Value.Equal(c.Value.Truncate(2)) {
		return errors.Wrap(ErrInvalidRule, "value has more than 2 decimal places")
	}
	switch c.DiscountType {
	case DiscountPercent:
		if c.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidRule, "percent value above 100")
		}
	case DiscountFixed:
	default:
		return errors.Wrapf(ErrInvalidRule, "unknown discount type %q", c.DiscountType)
	}
	return nil
}

// Apply computes the discount for an order total. Percent discounts round to
// cents; fixed discounts never exceed the total.
func Apply(c *Code, total decimal.Decimal) decimal.Decimal {
	if c == nil || !total.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercent:
		d = total.Mul(c.Value).Div(hundred).Round(2)
	case DiscountFixed:
		d = decimal.Min(c.Value, total)
	default:
		return decimal.Zero
	}
	if d.GreaterThan(total) {
		return total
	}
	return d
}
