package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// maxReportedConflicts caps how many conflicting SKUs are logged by name.
const maxReportedConflicts = 20

func main() {
	var (
		dataDir      string
		pattern      string
		databaseURL  string
		batchSize    int
		expectedSKUs uint
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing catalog files")
	flag.StringVar(&pattern, "pattern", "*.jsonl.gz", "glob for catalog files inside --data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "products per upsert batch")
	flag.UintVar(&expectedSKUs, "expected-skus", 1_000_000, "expected SKUs per file, sizes the bloom filters")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Error("Database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	importer := &catalog.Importer{
		BatchSize:    batchSize,
		ExpectedSKUs: expectedSKUs,
	}
	if err := run(ctx, importer, filepath.Join(dataDir, pattern), databaseURL); err != nil {
		lg.Error("Catalog import failed", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}

	lg.Info("Catalog import completed")
}

func run(ctx context.Context, importer *catalog.Importer, glob, databaseURL string) error {
	lg := zctx.From(ctx)

	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrapf(err, "match %s", glob)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", glob)
	}
	slices.Sort(files)

	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg.Info("Importing catalog", zap.Strings("files", files))

	stats, err := importer.Run(ctx, files, postgres.NewProductRepository(pool))
	if err != nil {
		return err
	}

	for _, sku := range stats.Conflicts[:min(len(stats.Conflicts), maxReportedConflicts)] {
		lg.Warn("Skipped conflicting SKU", zap.String("sku", sku))
	}
	lg.Info("Import summary",
		zap.Int("lines", stats.Lines),
		zap.Int("imported", stats.Imported),
		zap.Int("invalid", stats.Invalid),
		zap.Int("conflicts", len(stats.Conflicts)),
	)

	return nil
}
