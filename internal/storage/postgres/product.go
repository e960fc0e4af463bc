package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mall-pos/internal/domain/product"
)

const productColumns = `id, barcode, name, price, quantity, low_stock, image_url`

const (
	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR barcode ILIKE '%' || $1 || '%')
		  AND (NOT $2 OR low_stock)
		ORDER BY name, id
		LIMIT NULLIF($3, 0)`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductByBarcodeSQL = `SELECT ` + productColumns + ` FROM products WHERE barcode = $1`

	// lockProductsSQL locks rows in id order so concurrent checkouts over
	// overlapping products cannot deadlock.
	lockProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	createProductSQL = `INSERT INTO products (barcode, name, price, quantity, low_stock, image_url)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	updateProductSQL = `UPDATE products
		SET barcode = $2, name = $3, price = $4, low_stock = $5, image_url = $6, updated_at = now()
		WHERE id = $1 RETURNING quantity`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	setLowStockSQL = `UPDATE products SET low_stock = $2, updated_at = now() WHERE id = $1`

	adjustStockSQL = `UPDATE products SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING ` + productColumns
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns catalog products ordered by name.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL, f.Query, f.LowStockOnly, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	return getProduct(ctx, r.pool, id)
}

// FindByBarcode resolves an exact barcode.
func (r *ProductRepository) FindByBarcode(ctx context.Context, barcode string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByBarcodeSQL, barcode)
	if err != nil {
		return nil, fmt.Errorf("finding product by barcode %q: %w", barcode, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{Barcode: barcode}
		}
		return nil, fmt.Errorf("finding product by barcode %q: %w", barcode, err)
	}
	return &p, nil
}

// Create inserts p and sets its ID.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := r.pool.QueryRow(ctx, createProductSQL,
		p.Barcode, p.Name, p.Price, p.Quantity, p.LowStock, p.ImageURL,
	).Scan(&p.ID)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return product.ErrDuplicateBarcode
		}
		return fmt.Errorf("creating product %q: %w", p.Barcode, err)
	}
	return nil
}

// Update stores every field except the quantity, which is refreshed from the
// database.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	err := r.pool.QueryRow(ctx, updateProductSQL,
		p.ID, p.Barcode, p.Name, p.Price, p.LowStock, p.ImageURL,
	).Scan(&p.Quantity)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return &product.NotFoundError{ID: p.ID}
	case pgCode(err) == codeUniqueViolation:
		return product.ErrDuplicateBarcode
	default:
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return fmt.Errorf("deleting product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &product.NotFoundError{ID: id}
	}
	return nil
}

func (r *ProductRepository) SetLowStock(ctx context.Context, id int64, low bool) error {
	tag, err := r.pool.Exec(ctx, setLowStockSQL, id, low)
	if err != nil {
		return fmt.Errorf("flagging product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &product.NotFoundError{ID: id}
	}
	return nil
}

// AdjustStock applies a restock or correction outside of checkout.
func (r *ProductRepository) AdjustStock(ctx context.Context, id int64, delta int) (*product.Product, error) {
	return adjustStock(ctx, r.pool, id, delta)
}

func getProduct(ctx context.Context, q querier, id int64) (*product.Product, error) {
	rows, err := q.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// adjustStock is a single guarded statement: the row is only updated when the
// result stays non-negative, so no read-modify-write race exists.
func adjustStock(ctx context.Context, q querier, id int64, delta int) (*product.Product, error) {
	rows, err := q.Query(ctx, adjustStockSQL, id, delta)
	if err != nil {
		return nil, fmt.Errorf("adjusting stock of product %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("adjusting stock of product %d: %w", id, err)
	}

	current, err := getProduct(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return nil, &product.InsufficientStockError{Shortages: []product.Shortage{{
		ProductID: id,
		Name:      current.Name,
		Requested: -delta,
		Available: current.Quantity,
	}}}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.Price, &p.Quantity, &p.LowStock, &p.ImageURL)
	return p, err
}
