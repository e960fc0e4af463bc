// Package storage opens the configured backend and exposes it through the
// domain repository interfaces.
package storage

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
	"github.com/xenking/mall-pos/internal/storage/memory"
	"github.com/xenking/mall-pos/internal/storage/postgres"
	"github.com/xenking/mall-pos/internal/storage/sqlite"
)

// Driver names a storage backend.
type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
	Memory   Driver = "memory"
)

// Config selects and locates the backend.
type Config struct {
	Driver      Driver `default:"postgres" usage:"Storage backend: postgres, sqlite or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL" flag:"database-url"`
	SQLitePath  string `default:"pos.db" usage:"SQLite database file" flag:"sqlite-path"`
}

// Stores is an opened backend.
type Stores struct {
	Products product.Repository
	Orders   order.History
	Checkout order.TxRunner
	Promos   promo.Repository
	APIKeys  auth.Repository

	ping  func(ctx context.Context) error
	close func()
}

// Ping checks that the backend is reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend connections.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Open connects to the backend named by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	switch cfg.Driver {
	case Postgres, "":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database URL is required for postgres")
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create pool")
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := postgres.RunMigrations(migrateCtx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "migrate")
		}
		return &Stores{
			Products: postgres.NewProductRepository(pool),
			Orders:   postgres.NewOrderRepository(pool),
			Checkout: postgres.NewTxRunner(pool),
			Promos:   postgres.NewPromoRepository(pool),
			APIKeys:  postgres.NewAPIKeyRepository(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil

	case SQLite:
		d, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		return &Stores{
			Products: sqlite.NewProductRepository(d),
			Orders:   sqlite.NewOrderRepository(d),
			Checkout: sqlite.NewTxRunner(d),
			Promos:   sqlite.NewPromoRepository(d),
			APIKeys:  sqlite.NewAPIKeyRepository(d),
			ping:     d.Ping,
			close:    func() { _ = d.Close() },
		}, nil

	case Memory:
		s := memory.New()
		return &Stores{
			Products: s,
			Orders:   s.Orders(),
			Checkout: s,
			Promos:   memory.NewPromos(),
			APIKeys:  memory.NewAPIKeys(),
		}, nil

	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
