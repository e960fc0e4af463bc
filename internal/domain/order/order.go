package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/mall-pos/internal/domain/product"
)

// Order is an immutable record of a completed sale.
type Order struct {
	ID             string
	CreatedAt      time.Time
	Cashier        string
	Lines          []Line
	Total          decimal.Decimal
	PromoCode      string
	Discount       decimal.Decimal
	AmountDue      decimal.Decimal
	Payment        Payment
	IdempotencyKey string
}

// Line is a sold product. Name, barcode and price are copied at sale time so
// history is unaffected by later catalog edits or deletions.
type Line struct {
	ProductID int64
	Barcode   string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Subtotal  decimal.Decimal
}

// Units is the total number of items sold.
func (o *Order) Units() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

// ReplayFor returns o as the answer to a repeated submission by cashier.
// A key reused by another cashier does not reveal their receipt.
func (o *Order) ReplayFor(cashier string) (*Order, error) {
	if o.Cashier != cashier {
		return nil, ErrKeyInUse
	}
	return o, nil
}

// Filter narrows history listings. Zero values mean no constraint.
type Filter struct {
	Cashier       string
	PaymentMethod PaymentMethod
	From          time.Time
	To            time.Time
	Limit         int
}

// History is the append-only order log, listed newest first.
type History interface {
	List(ctx context.Context, f Filter) ([]Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
}

// Tx is the set of operations available inside a checkout transaction.
type Tx interface {
	// LockProducts reads the given products and holds them against concurrent
	// stock changes until the transaction ends. Unknown IDs are omitted.
	LockProducts(ctx context.Context, ids []int64) ([]product.Product, error)
	// AdjustStock applies delta unless the result would be negative.
	AdjustStock(ctx context.Context, id int64, delta int) error
	CreateOrder(ctx context.Context, o *Order) error
}

// TxRunner runs fn in a transaction that commits only if fn returns nil.
// Transient contention is reported as ErrConflict.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
