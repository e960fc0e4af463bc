package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/domain/product"
)

const productColumns = `id, barcode, name, price, quantity, low_stock, image_url`

const (
	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE (?1 = '' OR name LIKE '%' || ?1 || '%' OR barcode LIKE '%' || ?1 || '%')
		  AND (?2 = 0 OR low_stock = 1)
		ORDER BY name COLLATE NOCASE, id
		LIMIT ?3`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	getProductByBarcodeSQL = `SELECT ` + productColumns + ` FROM products WHERE barcode = ?`

	createProductSQL = `INSERT INTO products (barcode, name, price, quantity, low_stock, image_url)
		VALUES (?, ?, ?, ?, ?, ?)`

	updateProductSQL = `UPDATE products SET barcode = ?, name = ?, price = ?, low_stock = ?, image_url = ?
		WHERE id = ?`

	deleteProductSQL = `DELETE FROM products WHERE id = ?`

	setLowStockSQL = `UPDATE products SET low_stock = ? WHERE id = ?`

	adjustStockSQL = `UPDATE products SET quantity = quantity + ?2 WHERE id = ?1 AND quantity + ?2 >= 0`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository on SQLite.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(d *DB) *ProductRepository {
	return &ProductRepository{db: d.db}
}

func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, listProductsSQL, strings.TrimSpace(f.Query), f.LowStockOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return collectProducts(rows)
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	return getProduct(ctx, r.db, id)
}

func (r *ProductRepository) FindByBarcode(ctx context.Context, barcode string) (*product.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, getProductByBarcodeSQL, barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &product.NotFoundError{Barcode: barcode}
		}
		return nil, fmt.Errorf("finding product by barcode %q: %w", barcode, err)
	}
	return p, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	res, err := r.db.ExecContext(ctx, createProductSQL,
		p.Barcode, p.Name, p.Price, p.Quantity, p.LowStock, p.ImageURL,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return product.ErrDuplicateBarcode
		}
		return fmt.Errorf("creating product %q: %w", p.Barcode, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("creating product %q: %w", p.Barcode, err)
	}
	return nil
}

// Update stores every field except the quantity, which is refreshed from the
// database.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	res, err := r.db.ExecContext(ctx, updateProductSQL,
		p.Barcode, p.Name, p.Price, p.LowStock, p.ImageURL, p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return product.ErrDuplicateBarcode
		}
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	if err := expectRow(res, &product.NotFoundError{ID: p.ID}); err != nil {
		return err
	}
	current, err := getProduct(ctx, r.db, p.ID)
	if err != nil {
		return err
	}
	p.Quantity = current.Quantity
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, deleteProductSQL, id)
	if err != nil {
		return fmt.Errorf("deleting product %d: %w", id, err)
	}
	return expectRow(res, &product.NotFoundError{ID: id})
}

func (r *ProductRepository) SetLowStock(ctx context.Context, id int64, low bool) error {
	res, err := r.db.ExecContext(ctx, setLowStockSQL, low, id)
	if err != nil {
		return fmt.Errorf("flagging product %d: %w", id, err)
	}
	return expectRow(res, &product.NotFoundError{ID: id})
}

func (r *ProductRepository) AdjustStock(ctx context.Context, id int64, delta int) (*product.Product, error) {
	if err := adjustStock(ctx, r.db, id, delta); err != nil {
		return nil, err
	}
	return getProduct(ctx, r.db, id)
}

func getProduct(ctx context.Context, q querier, id int64) (*product.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, getProductByIDSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &product.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return p, nil
}

// adjustStock applies delta in one guarded statement.
func adjustStock(ctx context.Context, q querier, id int64, delta int) error {
	res, err := q.ExecContext(ctx, adjustStockSQL, id, delta)
	if err != nil {
		return fmt.Errorf("adjusting stock of product %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjusting stock of product %d: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	current, err := getProduct(ctx, q, id)
	if err != nil {
		return err
	}
	return &product.InsufficientStockError{Shortages: []product.Shortage{{
		ProductID: id,
		Name:      current.Name,
		Requested: -delta,
		Available: current.Quantity,
	}}}
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var p product.Product
	if err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.Price, &p.Quantity, &p.LowStock, &p.ImageURL); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows *sql.Rows) ([]product.Product, error) {
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}
	return out, nil
}
