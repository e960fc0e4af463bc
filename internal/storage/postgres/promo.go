package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mall-pos/internal/domain/promo"
)

const (
	promoColumns = `code, discount_type, value, active, expires_at`

	getPromoSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	listPromosSQL = `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY code`

	createPromoSQL = `INSERT INTO promo_codes (` + promoColumns + `) VALUES ($1, $2, $3, $4, $5)`

	setPromoActiveSQL = `UPDATE promo_codes SET active = $2 WHERE code = $1`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode returns promo.ErrInvalidCode when the code does not exist.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, getPromoSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &c, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]promo.Code, error) {
	rows, err := r.pool.Query(ctx, listPromosSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	return pgx.CollectRows(rows, scanPromo)
}

func (r *PromoRepository) Create(ctx context.Context, c *promo.Code) error {
	_, err := r.pool.Exec(ctx, createPromoSQL, c.Code, string(c.DiscountType), c.Value, c.Active, c.ExpiresAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return promo.ErrDuplicateCode
		}
		return fmt.Errorf("creating promo code %q: %w", c.Code, err)
	}
	return nil
}

func (r *PromoRepository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.pool.Exec(ctx, setPromoActiveSQL, code, active)
	if err != nil {
		return fmt.Errorf("updating promo code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrInvalidCode
	}
	return nil
}

func scanPromo(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c            promo.Code
		discountType string
	)
	err := row.Scan(&c.Code, &discountType, &c.Value, &c.Active, &c.ExpiresAt)
	c.DiscountType = promo.DiscountType(discountType)
	return c, err
}
