// Command catalog-import loads gzip JSON-lines supplier feeds into the
// catalog. Barcodes found in more than one feed are reported and skipped.
//
//	catalog-import -database-url postgres://... feeds/supplier1.jsonl.gz feeds/supplier2.jsonl.gz
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/catalogimport"
	"github.com/xenking/mall-pos/internal/storage"
)

func main() {
	var (
		cfg      storage.Config
		driver   string
		capacity uint
		fpr      float64
	)
	flag.StringVar(&driver, "driver", "postgres", "storage backend: postgres or sqlite")
	flag.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", "pos.db", "SQLite database file")
	flag.UintVar(&capacity, "capacity", 1_000_000, "expected barcodes per feed")
	flag.Float64Var(&fpr, "fpr", 0.001, "bloom filter false positive rate")
	flag.Parse()

	cfg.Driver = storage.Driver(driver)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no feeds given")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, files, capacity, fpr); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, cfg storage.Config, files []string, capacity uint, fpr float64) error {
	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer stores.Close()

	im := &catalogimport.Importer{
		Products: stores.Products,
		Capacity: capacity,
		FPR:      fpr,
		Logger:   slog.Default(),
	}
	res, err := im.Import(ctx, files)
	if err != nil {
		return err
	}
	slog.Info("import summary",
		slog.Int("lines", res.Lines),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("invalid", res.Invalid),
		slog.Int("duplicates", len(res.Duplicates)),
	)
	return nil
}
