package catalog

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
)

// MaxFiles bounds a single import; file membership is tracked as a bitmask.
const MaxFiles = bits.UintSize

const (
	defaultBatchSize     = 500
	defaultExpectedSKUs  = 1_000_000
	defaultFalsePositive = 0.001
	progressEvery        = 100_000
	maxLineSize          = 1 << 20
)

// Sink receives decoded products in batches. The slice is reused after
// UpsertBatch returns.
type Sink interface {
	UpsertBatch(ctx context.Context, products []product.Product) error
}

// Importer loads product records from JSON Lines files, optionally
// gzip-compressed, into a Sink.
//
// A SKU listed in more than one file is a conflict: no file is authoritative
// for it, so it is skipped and reported. Conflicts are found in two streaming
// passes with one bloom filter per file, so memory stays proportional to the
// number of conflicting SKUs rather than the catalog size.
//
// Progress is logged to the zctx logger of the context passed to Run.
type Importer struct {
	BatchSize     int
	ExpectedSKUs  uint
	FalsePositive float64
}

// Stats summarizes an import run.
type Stats struct {
	Lines     int
	Imported  int
	Invalid   int
	Conflicts []string
}

// Run imports all files. Invalid records are counted and logged, never fatal.
func (im *Importer) Run(ctx context.Context, files []string, sink Sink) (Stats, error) {
	if len(files) == 0 {
		return Stats{}, errors.New("no input files")
	}
	if len(files) > MaxFiles {
		return Stats{}, errors.Errorf("too many input files: %d, max %d", len(files), MaxFiles)
	}

	lg := zctx.From(ctx)

	var conflicts map[string]struct{}
	if len(files) > 1 {
		lg.Info("Building bloom filters", zap.Int("files", len(files)))
		filters, err := im.buildFilters(ctx, files)
		if err != nil {
			return Stats{}, errors.Wrap(err, "build bloom filters")
		}

		lg.Info("Finding SKUs shared between files")
		if conflicts, err = findShared(ctx, files, filters); err != nil {
			return Stats{}, errors.Wrap(err, "find shared SKUs")
		}
	}

	stats := Stats{}
	for sku := range conflicts {
		stats.Conflicts = append(stats.Conflicts, sku)
	}
	slices.Sort(stats.Conflicts)
	if len(conflicts) > 0 {
		lg.Warn("Skipping SKUs listed in more than one file", zap.Int("count", len(conflicts)))
	}

	batchSize := im.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batch := make([]product.Product, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		stats.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, path := range files {
		lineNo := 0
		err := streamLines(ctx, path, func(line []byte) error {
			lineNo++
			stats.Lines++
			p, err := DecodeLine(line)
			if err != nil {
				stats.Invalid++
				lg.Warn("Invalid record",
					zap.String("file", path),
					zap.Int("line", lineNo),
					zap.Error(err),
				)
				return nil
			}
			if _, ok := conflicts[p.SKU]; ok {
				return nil
			}
			batch = append(batch, p)
			if len(batch) < batchSize {
				return nil
			}
			if err := flush(); err != nil {
				return err
			}
			if stats.Imported%progressEvery < batchSize {
				lg.Info("Import progress", zap.Int("imported", stats.Imported))
			}
			return nil
		})
		if err != nil {
			return stats, errors.Wrapf(err, "import %s", path)
		}
	}
	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "flush")
	}
	return stats, nil
}

func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	expected, fpr := im.ExpectedSKUs, im.FalsePositive
	if expected == 0 {
		expected = defaultExpectedSKUs
	}
	if fpr <= 0 {
		fpr = defaultFalsePositive
	}

	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, fpr)
			var count int
			err := streamLines(ctx, path, func(line []byte) error {
				if sku := skuOf(line); sku != "" {
					filter.AddString(sku)
					count++
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			zctx.From(ctx).Info("Bloom filter built", zap.String("file", path), zap.Int("skus", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findShared re-streams every file and marks SKUs that test positive in
// another file's filter. Each file only sets its own bit, so a SKU whose mask
// has two bits set is present in two files regardless of false positives.
func findShared(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamLines(ctx, path, func(line []byte) error {
				sku := skuOf(line)
				if sku == "" {
					return nil
				}
				for j, f := range filters {
					if j != i && f.TestString(sku) {
						candidates[sku] |= bit
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for sku, mask := range r {
			merged[sku] |= mask
		}
	}
	shared := make(map[string]struct{})
	for sku, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			shared[sku] = struct{}{}
		}
	}
	return shared, nil
}

// skuOf extracts the trimmed sku field, or "" when the line has none.
func skuOf(line []byte) string {
	var sku string
	_ = jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "sku" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		sku = strings.TrimSpace(s)
		return nil
	})
	return sku
}

// streamLines calls fn for every non-blank line of path. Files ending in .gz
// are decompressed with pgzip.
func streamLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
