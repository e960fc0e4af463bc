package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConflict signals transient contention (serialization failure,
	// deadlock, busy database). The transaction was rolled back and may be
	// retried.
	ErrConflict = errors.New("transaction conflict")
	// ErrDuplicateSubmission is returned by storage when an order with the
	// same idempotency key already exists.
	ErrDuplicateSubmission = errors.New("duplicate checkout submission")
	// ErrKeyInUse is returned when an idempotency key names an order rung up
	// by a different cashier.
	ErrKeyInUse = errors.New("idempotency key belongs to another cashier")
	// ErrInvalidPaymentMethod is returned for unsupported payment methods.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInsufficientPayment matches any *InsufficientPaymentError.
	ErrInsufficientPayment = errors.New("insufficient payment")
)

// TransactionFailedError is returned when checkout gives up after repeated
// conflicts.
type TransactionFailedError struct {
	Attempts int
	Err      error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("checkout failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransactionFailedError) Unwrap() error { return e.Err }

// InsufficientPaymentError reports cash tendered below the amount due.
type InsufficientPaymentError struct {
	Due      decimal.Decimal
	Tendered decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("tendered %s is less than amount due %s", e.Tendered.StringFixed(2), e.Due.StringFixed(2))
}

func (e *InsufficientPaymentError) Is(target error) bool { return target == ErrInsufficientPayment }
