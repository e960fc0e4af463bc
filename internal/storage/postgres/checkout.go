package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
)

var _ order.TxRunner = (*TxRunner)(nil)

// TxRunner runs checkout transactions at READ COMMITTED. Isolation for the
// products involved comes from row locks taken by LockProducts.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx begins a transaction, runs fn and commits. Serialization failures and
// deadlocks are reported as order.ErrConflict.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("beginning checkout: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &checkoutTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("committing checkout: %w", err))
	}
	return nil
}

func classify(err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %w", order.ErrConflict, err)
	}
	return err
}

type checkoutTx struct {
	tx pgx.Tx
}

func (t *checkoutTx) LockProducts(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := t.tx.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (t *checkoutTx) AdjustStock(ctx context.Context, id int64, delta int) error {
	_, err := adjustStock(ctx, t.tx, id, delta)
	return err
}

func (t *checkoutTx) CreateOrder(ctx context.Context, o *order.Order) error {
	return insertOrder(ctx, t.tx, o)
}
