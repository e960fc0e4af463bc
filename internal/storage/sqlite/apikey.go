package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, role, active
		FROM api_keys WHERE key_hash = ? AND active = 1`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, role, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET key_hash = excluded.key_hash, name = excluded.name, role = excluded.role, active = excluded.active`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(d *DB) *APIKeyRepository {
	return &APIKeyRepository{db: d.db}
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var (
		k    auth.APIKey
		role string
	)
	err := r.db.QueryRowContext(ctx, getAPIKeyByHashSQL, hash).Scan(&k.ID, &k.KeyHash, &k.Name, &role, &k.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("finding api key: %w", err)
	}
	k.Role = auth.Role(role)
	return &k, nil
}

func (r *APIKeyRepository) Upsert(ctx context.Context, k *auth.APIKey) error {
	if _, err := r.db.ExecContext(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, string(k.Role), k.Active); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}
