package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/domain/order"
)

const orderColumns = `id, created_at, cashier, total, promo_code, discount, amount_due,
	payment_method, tendered, change_due, idempotency_key`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertOrderLineSQL = `INSERT INTO order_lines
		(order_id, position, product_id, barcode, name, unit_price, quantity, subtotal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE (?1 = '' OR cashier = ?1)
		  AND (?2 = '' OR payment_method = ?2)
		  AND (?3 = '' OR created_at >= ?3)
		  AND (?4 = '' OR created_at < ?4)
		ORDER BY created_at DESC, id
		LIMIT ?5`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = ?`

	listOrderLinesSQL = `SELECT order_id, product_id, barcode, name, unit_price, quantity, subtotal
		FROM order_lines WHERE order_id IN (%s) ORDER BY order_id, position`
)

var _ order.History = (*OrderRepository)(nil)

// OrderRepository reads the order history.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(d *DB) *OrderRepository {
	return &OrderRepository{db: d.db}
}

func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var from, to string
	if !f.From.IsZero() {
		from = formatTime(f.From)
	}
	if !f.To.IsZero() {
		to = formatTime(f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, listOrdersSQL, f.Cashier, string(f.PaymentMethod), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := attachLines(ctx, r.db, orders); err != nil {
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

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	orders := []order.Order{*o}
	if err := attachLines(ctx, r.db, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func attachLines(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	args := make([]any, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		args[i] = o.ID
		index[o.ID] = i
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orders)), ",")

	rows, err := q.QueryContext(ctx, fmt.Sprintf(listOrderLinesSQL, placeholders), args...)
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

func insertOrder(ctx context.Context, tx *sql.Tx, o *order.Order) error {
	_, err := tx.ExecContext(ctx, insertOrderSQL,
		o.ID, formatTime(o.CreatedAt), o.Cashier, o.Total, o.PromoCode, o.Discount, o.AmountDue,
		string(o.Payment.Method), o.Payment.Tendered, o.Payment.Change, nullableString(o.IdempotencyKey),
	)
	if err != nil {
		if isUniqueViolation(err) && o.IdempotencyKey != "" {
			return fmt.Errorf("order with key %q: %w", o.IdempotencyKey, order.ErrDuplicateSubmission)
		}
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertOrderLineSQL)
	if err != nil {
		return fmt.Errorf("preparing order lines: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, l := range o.Lines {
		if _, err := stmt.ExecContext(ctx,
			o.ID, i, l.ProductID, l.Barcode, l.Name, l.UnitPrice, l.Quantity, l.Subtotal,
		); err != nil {
			return fmt.Errorf("inserting line %d of order %s: %w", i, o.ID, err)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o         order.Order
		createdAt string
		method    string
		key       sql.NullString
	)
	err := row.Scan(
		&o.ID, &createdAt, &o.Cashier, &o.Total, &o.PromoCode, &o.Discount, &o.AmountDue,
		&method, &o.Payment.Tendered, &o.Payment.Change, &key,
	)
	if err != nil {
		return nil, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	o.Payment.Method = order.PaymentMethod(method)
	o.IdempotencyKey = key.String
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]order.Order, error) {
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading orders: %w", err)
	}
	return out, nil
}
