package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mall-pos/internal/domain/order"
)

const orderColumns = `id, created_at, cashier, total, promo_code, discount, amount_due,
	payment_method, tendered, change_due, idempotency_key`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertOrderLineSQL = `INSERT INTO order_lines
		(order_id, position, product_id, barcode, name, unit_price, quantity, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR cashier = $1)
		  AND ($2 = '' OR payment_method = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, id
		LIMIT NULLIF($5, 0)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	listOrderLinesSQL = `SELECT order_id, product_id, barcode, name, unit_price, quantity, subtotal
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`
)

var _ order.History = (*OrderRepository)(nil)

// OrderRepository reads the order history. Orders are written only by
// checkout transactions.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// List returns orders newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL,
		f.Cashier, string(f.PaymentMethod), nullTime(f.From), nullTime(f.To), f.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, id)
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByKeySQL, key)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	orders := []order.Order{o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Barcode, &l.Name, &l.UnitPrice, &l.Quantity, &l.Subtotal); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	return nil
}

// insertOrder writes the order header and its lines in one batch.
func insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(insertOrderSQL,
		o.ID, o.CreatedAt, o.Cashier, o.Total, o.PromoCode, o.Discount, o.AmountDue,
		string(o.Payment.Method), o.Payment.Tendered, o.Payment.Change, nullIfEmpty(o.IdempotencyKey),
	)
	for i, l := range o.Lines {
		batch.Queue(insertOrderLineSQL,
			o.ID, i, l.ProductID, l.Barcode, l.Name, l.UnitPrice, l.Quantity, l.Subtotal,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if pgCode(err) == codeUniqueViolation && o.IdempotencyKey != "" {
			return fmt.Errorf("order with key %q: %w", o.IdempotencyKey, order.ErrDuplicateSubmission)
		}
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		method string
		key    *string
	)
	err := row.Scan(
		&o.ID, &o.CreatedAt, &o.Cashier, &o.Total, &o.PromoCode, &o.Discount, &o.AmountDue,
		&method, &o.Payment.Tendered, &o.Payment.Change, &key,
	)
	o.CreatedAt = o.CreatedAt.UTC()
	o.Payment.Method = order.PaymentMethod(method)
	if key != nil {
		o.IdempotencyKey = *key
	}
	return o, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
