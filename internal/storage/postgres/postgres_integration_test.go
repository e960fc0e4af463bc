//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/mall-pos/internal/storage/storagetest"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pos",
				"POSTGRES_PASSWORD": "pos",
				"POSTGRES_DB":       "pos",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://pos:pos@%s/pos?sslmode=disable", endpoint))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestStore(t *testing.T) {
	pool := startPostgres(t)

	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		_, err := pool.Exec(context.Background(),
			`TRUNCATE products, orders, order_lines, promo_codes, api_keys RESTART IDENTITY CASCADE`)
		require.NoError(t, err)

		return storagetest.Backend{
			Products: NewProductRepository(pool),
			Orders:   NewOrderRepository(pool),
			Runner:   NewTxRunner(pool),
			Promos:   NewPromoRepository(pool),
			APIKeys:  NewAPIKeyRepository(pool),
		}
	})
}

func TestRunMigrationsTwice(t *testing.T) {
	pool := startPostgres(t)
	require.NoError(t, RunMigrations(context.Background(), pool))
}
