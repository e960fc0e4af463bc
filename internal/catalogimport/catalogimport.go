// Package catalogimport loads supplier product feeds into the catalog.
//
// A feed is a gzip-compressed file of JSON lines, one product per line. Mall
// suppliers send overlapping feeds, and a barcode that shows up in more than
// one feed cannot be attributed to a supplier, so it is reported and skipped.
// Cross-feed duplicates are found in two streaming passes: one bloom filter
// per feed, then an exact check of the filter hits.
package catalogimport

import (
	"bufio"
	"context"
	"log/slog"
	"maps"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/mall-pos/internal/domain/product"
)

const (
	defaultCapacity = 1_000_000
	defaultFPR      = 0.001
	progressEvery   = 10_000
	maxLineSize     = 1 << 20
)

// Record is one line of a feed. Quantity is the number of units delivered.
type Record struct {
	Barcode  string
	Name     string
	Price    decimal.Decimal
	Quantity int
	ImageURL string
}

// ParseRecord decodes one feed line.
func ParseRecord(line []byte) (Record, error) {
	var r Record
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "barcode":
			r.Barcode, err = d.Str()
		case "name":
			r.Name, err = d.Str()
		case "price":
			r.Price, err = decodePrice(d)
		case "quantity":
			r.Quantity, err = d.Int()
		case "image_url":
			r.ImageURL, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if r.Barcode == "" {
		return Record{}, errors.New("missing barcode")
	}
	if r.Quantity < 0 {
		return Record{}, errors.Errorf("negative quantity %d", r.Quantity)
	}
	return r, nil
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

// Result summarizes an import.
type Result struct {
	Lines   int
	Created int
	Updated int
	Invalid int
	// Duplicates are the barcodes found in more than one feed, sorted.
	Duplicates []string
}

// Importer applies feeds to a catalog.
type Importer struct {
	Products product.Repository
	// Capacity is the expected number of barcodes per feed, used to size the
	// bloom filters.
	Capacity uint
	// FPR is the target false positive rate of the bloom filters.
	FPR    float64
	Logger *slog.Logger
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger == nil {
		return slog.Default()
	}
	return im.Logger
}

// Import reads every feed, skips cross-feed duplicates and upserts the rest.
// Files are applied in the given order.
func (im *Importer) Import(ctx context.Context, files []string) (*Result, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d feeds per import", bits.UintSize)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check feed %s", f)
		}
	}
	lg := im.logger()

	lg.Info("pass 1: building bloom filters", slog.Int("feeds", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("pass 2: confirming cross-feed barcodes")
	duplicates, err := findDuplicates(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find duplicates")
	}
	res := &Result{Duplicates: slices.Sorted(maps.Keys(duplicates))}
	for _, b := range res.Duplicates {
		lg.Warn("barcode appears in several feeds, skipped", slog.String("barcode", b))
	}

	lg.Info("pass 3: applying feeds")
	for _, f := range files {
		if err := im.apply(ctx, f, duplicates, res); err != nil {
			return res, errors.Wrapf(err, "apply %s", f)
		}
	}
	return res, nil
}

// buildFilters creates one bloom filter per feed, concurrently.
func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	capacity, fpr := im.Capacity, im.FPR
	if capacity == 0 {
		capacity = defaultCapacity
	}
	if fpr <= 0 {
		fpr = defaultFPR
	}

	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, fpr)
			var count int
			err := streamFeed(ctx, path, func(_ int, r Record) error {
				filter.AddString(r.Barcode)
				count++
				if count%progressEvery == 0 {
					im.logger().Info("pass 1 progress", slog.String("feed", path), slog.Int("barcodes", count))
				}
				return nil
			}, nil)
			if err != nil {
				return err
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findDuplicates re-streams each feed and keeps the barcodes that hit another
// feed's filter. A barcode is a duplicate when the exact sets of two or more
// feeds contain it, which discards the filters' false positives.
func findDuplicates(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	candidates := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamFeed(ctx, path, func(_ int, r Record) error {
				for j, f := range filters {
					if j != i && f.TestString(r.Barcode) {
						found[r.Barcode] |= bit
						break
					}
				}
				return nil
			}, nil)
			if err != nil {
				return err
			}
			candidates[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, found := range candidates {
		for barcode, mask := range found {
			merged[barcode] |= mask
		}
	}
	out := make(map[string]struct{})
	for barcode, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			out[barcode] = struct{}{}
		}
	}
	return out, nil
}

func (im *Importer) apply(ctx context.Context, path string, skip map[string]struct{}, res *Result) error {
	lg := im.logger()
	return streamFeed(ctx, path, func(line int, r Record) error {
		res.Lines++
		if _, ok := skip[r.Barcode]; ok {
			return nil
		}
		created, err := im.upsert(ctx, r)
		var invalid *product.ValidationError
		switch {
		case errors.As(err, &invalid):
			res.Invalid++
			lg.Warn("invalid product", slog.String("feed", path), slog.Int("line", line), slog.String("error", err.Error()))
			return nil
		case err != nil:
			return errors.Wrapf(err, "line %d", line)
		case created:
			res.Created++
		default:
			res.Updated++
		}
		return nil
	}, func(line int, err error) {
		res.Lines++
		res.Invalid++
		lg.Warn("malformed line", slog.String("feed", path), slog.Int("line", line), slog.String("error", err.Error()))
	})
}

// upsert creates a new product or refreshes an existing one and adds the
// delivered quantity to its stock.
func (im *Importer) upsert(ctx context.Context, r Record) (created bool, _ error) {
	existing, err := im.Products.FindByBarcode(ctx, r.Barcode)
	if errors.Is(err, product.ErrNotFound) {
		p := product.Product{
			Barcode:  r.Barcode,
			Name:     r.Name,
			Price:    r.Price,
			Quantity: r.Quantity,
			ImageURL: r.ImageURL,
		}
		if err := p.Validate(); err != nil {
			return false, err
		}
		return true, im.Products.Create(ctx, &p)
	}
	if err != nil {
		return false, err
	}

	p := *existing
	if r.Name != "" {
		p.Name = r.Name
	}
	if !r.Price.IsZero() {
		p.Price = r.Price
	}
	if r.ImageURL != "" {
		p.ImageURL = r.ImageURL
	}
	if err := p.Validate(); err != nil {
		return false, err
	}
	if err := im.Products.Update(ctx, &p); err != nil {
		return false, err
	}
	if r.Quantity > 0 {
		if _, err := im.Products.AdjustStock(ctx, p.ID, r.Quantity); err != nil {
			return false, err
		}
	}
	return false, nil
}

// streamFeed calls fn for every parsed line of a gzip feed. Lines that fail to
// parse go to bad, or are ignored when bad is nil. Line numbers start at 1.
func streamFeed(ctx context.Context, path string, fn func(line int, r Record) error, bad func(line int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		r, err := ParseRecord(raw)
		if err != nil {
			if bad != nil {
				bad(line, err)
			}
			continue
		}
		if err := fn(line, r); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
