// Command seed-db applies the schema and loads the sample catalog, promo codes
// and the admin and cashier API keys.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/db"
	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/seed"
	"github.com/xenking/mall-pos/internal/storage"
)

type options struct {
	storage      storage.Config
	productsFile string
	pepper       string
	adminKey     string
	cashierKey   string
	cashierName  string
}

func main() {
	var (
		opts   options
		driver string
	)
	flag.StringVar(&driver, "driver", "postgres", "storage backend: postgres or sqlite")
	flag.StringVar(&opts.storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.storage.SQLitePath, "sqlite-path", "pos.db", "SQLite database file")
	flag.StringVar(&opts.productsFile, "products-file", "", "products JSON file (defaults to the built-in sample catalog)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or POS_API_KEY_PEPPER env)")
	flag.StringVar(&opts.adminKey, "admin-key", "", "admin API key to store (or POS_SEED_ADMIN_KEY env)")
	flag.StringVar(&opts.cashierKey, "cashier-key", "", "cashier API key to store (or POS_SEED_CASHIER_KEY env)")
	flag.StringVar(&opts.cashierName, "cashier-name", "cashier", "display name of the cashier key")
	flag.Parse()

	opts.storage.Driver = storage.Driver(driver)
	if opts.storage.DatabaseURL == "" {
		opts.storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("POS_API_KEY_PEPPER")
	}
	if opts.adminKey == "" {
		opts.adminKey = os.Getenv("POS_SEED_ADMIN_KEY")
	}
	if opts.cashierKey == "" {
		opts.cashierKey = os.Getenv("POS_SEED_CASHIER_KEY")
	}
	if opts.storage.Driver == storage.Memory {
		slog.Error("seeding the memory store has no effect; use postgres or sqlite")
		os.Exit(1)
	}
	if (opts.adminKey != "" || opts.cashierKey != "") && opts.pepper == "" {
		slog.Error("API key pepper is required to store keys: set --api-key-pepper or POS_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("opening storage", slog.String("driver", string(opts.storage.Driver)))
	stores, err := storage.Open(ctx, opts.storage)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer stores.Close()

	data := db.Products
	if opts.productsFile != "" {
		slog.Info("reading products file", slog.String("path", opts.productsFile))
		if data, err = os.ReadFile(opts.productsFile); err != nil {
			return errors.Wrap(err, "read products file")
		}
	}
	products, err := seed.ParseProducts(data)
	if err != nil {
		return err
	}
	res, err := seed.Products(ctx, stores.Products, products)
	if err != nil {
		return errors.Wrap(err, "seed products")
	}
	slog.Info("products seeded", slog.Int("created", res.Created), slog.Int("existing", res.Skipped))

	res, err = seed.Promos(ctx, stores.Promos, seed.DefaultPromos())
	if err != nil {
		return errors.Wrap(err, "seed promos")
	}
	slog.Info("promo codes seeded", slog.Int("created", res.Created), slog.Int("existing", res.Skipped))

	pepper := []byte(opts.pepper)
	if opts.adminKey != "" {
		if err := seed.APIKey(ctx, stores.APIKeys, pepper, "admin", "admin", auth.RoleAdmin, opts.adminKey); err != nil {
			return err
		}
		slog.Info("upserted API key", slog.String("id", "admin"), slog.String("role", string(auth.RoleAdmin)))
	}
	if opts.cashierKey != "" {
		if err := seed.APIKey(ctx, stores.APIKeys, pepper, "cashier", opts.cashierName, auth.RoleCashier, opts.cashierKey); err != nil {
			return err
		}
		slog.Info("upserted API key", slog.String("id", "cashier"), slog.String("role", string(auth.RoleCashier)))
	}
	return nil
}
