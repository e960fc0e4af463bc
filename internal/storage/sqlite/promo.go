package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/domain/promo"
)

const (
	promoColumns = `code, discount_type, value, active, expires_at`

	getPromoSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = ?`

	listPromosSQL = `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY code`

	createPromoSQL = `INSERT INTO promo_codes (` + promoColumns + `) VALUES (?, ?, ?, ?, ?)`

	setPromoActiveSQL = `UPDATE promo_codes SET active = ? WHERE code = ?`
)

var _ promo.Repository = (*PromoRepository)(nil)

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(d *DB) *PromoRepository {
	return &PromoRepository{db: d.db}
}

func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	c, err := scanPromo(r.db.QueryRowContext(ctx, getPromoSQL, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, promo.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return c, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]promo.Code, error) {
	rows, err := r.db.QueryContext(ctx, listPromosSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	defer rows.Close()

	var out []promo.Code
	for rows.Next() {
		c, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning promo code: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, c *promo.Code) error {
	_, err := r.db.ExecContext(ctx, createPromoSQL,
		c.Code, string(c.DiscountType), c.Value, c.Active, nullableTime(c.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.ErrDuplicateCode
		}
		return fmt.Errorf("creating promo code %q: %w", c.Code, err)
	}
	return nil
}

func (r *PromoRepository) SetActive(ctx context.Context, code string, active bool) error {
	res, err := r.db.ExecContext(ctx, setPromoActiveSQL, active, code)
	if err != nil {
		return fmt.Errorf("updating promo code %q: %w", code, err)
	}
	return expectRow(res, promo.ErrInvalidCode)
}

func scanPromo(row rowScanner) (*promo.Code, error) {
	var (
		c            promo.Code
		discountType string
		expiresAt    sql.NullString
	)
	if err := row.Scan(&c.Code, &discountType, &c.Value, &c.Active, &expiresAt); err != nil {
		return nil, err
	}
	c.DiscountType = promo.DiscountType(discountType)
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, err
		}
		c.ExpiresAt = &t
	}
	return &c, nil
}
