package order

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer paid.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentWallet PaymentMethod = "wallet"
)

// PaymentMethods lists the accepted methods.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentUPI, PaymentWallet}

// ParsePaymentMethod validates s. An empty string means cash.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	if s == "" {
		return PaymentCash, nil
	}
	for _, m := range PaymentMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidPaymentMethod, "%q", s)
}

// Payment records what was tendered and the change returned.
type Payment struct {
	Method   PaymentMethod
	Tendered decimal.Decimal
	Change   decimal.Decimal
}

// PaymentRequest is the tender entered at the till. Tendered is only
// meaningful for cash; other methods, and cash with no tender entered, settle
// the exact amount due.
type PaymentRequest struct {
	Method   PaymentMethod
	Tendered decimal.Decimal
}

// Settle computes the payment for amount due.
func (r PaymentRequest) Settle(due decimal.Decimal) (Payment, error) {
	method := r.Method
	if method == "" {
		method = PaymentCash
	}
	if method != PaymentCash || r.Tendered.IsZero() {
		return Payment{Method: method, Tendered: due, Change: decimal.Zero}, nil
	}
	if r.Tendered.LessThan(due) {
		return Payment{}, &InsufficientPaymentError{Due: due, Tendered: r.Tendered}
	}
	return Payment{Method: method, Tendered: r.Tendered, Change: r.Tendered.Sub(due)}, nil
}
