package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// defaultUserID owns the seeded API key so that repeated seeding keeps the
// same identity and its orders.
const defaultUserID = "00000000-0000-4000-8000-000000000001"

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	userID       uuid.UUID
}

func main() {
	var (
		opts   options
		userID string
	)

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&userID, "user-id", defaultUserID, "user the seeded API key acts for")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		slog.Error("invalid --user-id", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts.userID = id

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	products, err := catalog.DecodeArray(data)
	if err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	if err := repo.UpsertBatch(ctx, products); err != nil {
		return err
	}
	for _, p := range products {
		slog.Info("upserted product",
			slog.String("id", p.ID.String()),
			slog.String("sku", p.SKU),
			slog.Int("stock", p.Stock),
		)
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, opts options) error {
	slog.Info("seeding default API key")

	info := auth.APIKeyInfo{
		ID:      "default",
		UserID:  opts.userID,
		KeyHash: auth.HashKey(opts.apiKey, []byte(opts.apiKeyPepper)),
		Name:    "Default test key",
		Scopes:  []string{"cart", "orders"},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key",
		slog.String("id", info.ID),
		slog.String("name", info.Name),
		slog.String("user_id", info.UserID.String()),
	)

	return nil
}
