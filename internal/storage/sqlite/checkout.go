package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
)

var _ order.TxRunner = (*TxRunner)(nil)

// TxRunner runs checkout transactions. The DSN sets _txlock=immediate, so
// the write lock is taken at BEGIN and the stock read in LockProducts cannot
// go stale before commit.
type TxRunner struct {
	db *sql.DB
}

func NewTxRunner(d *DB) *TxRunner {
	return &TxRunner{db: d.db}
}

// InTx reports SQLITE_BUSY and SQLITE_LOCKED as order.ErrConflict.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("beginning checkout: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &checkoutTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("committing checkout: %w", err))
	}
	return nil
}

func classify(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %w", order.ErrConflict, err)
	}
	return err
}

type checkoutTx struct {
	tx *sql.Tx
}

func (t *checkoutTx) LockProducts(ctx context.Context, ids []int64) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `) ORDER BY id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return collectProducts(rows)
}

func (t *checkoutTx) AdjustStock(ctx context.Context, id int64, delta int) error {
	return adjustStock(ctx, t.tx, id, delta)
}

func (t *checkoutTx) CreateOrder(ctx context.Context, o *order.Order) error {
	return insertOrder(ctx, t.tx, o)
}
