// Command seed-db loads a demo catalog, coupons and API keys into the
// marketplace database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

type catalogJSON struct {
	Merchants []merchantJSON `json:"merchants"`
	Coupons   []couponJSON   `json:"coupons"`
}

type merchantJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	IsOpen       bool            `json:"isOpen"`
	DeliveryFee  decimal.Decimal `json:"deliveryFee"`
	OpeningHours json.RawMessage `json:"openingHours"`
	Products     []productJSON   `json:"products"`
}

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Available bool            `json:"available"`
}

type couponJSON struct {
	Code          string           `json:"code"`
	MerchantID    string           `json:"merchantId"`
	Kind          coupon.Kind      `json:"kind"`
	Value         decimal.Decimal  `json:"value"`
	MinOrderValue *decimal.Decimal `json:"minOrderValue"`
	MaxUses       *int             `json:"maxUses"`
}

type seedKey struct {
	id, name, subject, scope, key string
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		customerKey  string
		operatorKey  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or MARKET_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&operatorKey, "operator-key", "", "operator API key to seed (or MARKET_SEED_OPERATOR_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MARKET_API_KEY_PEPPER env)")
	flag.Parse()

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	customerKey = orEnv(customerKey, "MARKET_SEED_CUSTOMER_KEY")
	operatorKey = orEnv(operatorKey, "MARKET_SEED_OPERATOR_KEY")
	apiKeyPepper = orEnv(apiKeyPepper, "MARKET_API_KEY_PEPPER")

	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	keys := []seedKey{
		{id: "demo-customer", name: "Demo customer", subject: "demo-customer", scope: auth.ScopeCustomer, key: customerKey},
		{id: "demo-operator", name: "Demo operator", subject: "operator", scope: auth.ScopeOperator, key: operatorKey},
	}
	if err := run(ctx, databaseURL, catalogFile, apiKeyPepper, keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, databaseURL, catalogFile, pepper string, keys []seedKey) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	if err := seedMerchants(ctx, pool, catalog.Merchants); err != nil {
		return errors.Wrap(err, "seed merchants")
	}
	if err := seedCoupons(ctx, pool, catalog.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKeys(ctx, pool, pepper, keys); err != nil {
		return errors.Wrap(err, "seed api keys")
	}
	return nil
}

func seedMerchants(ctx context.Context, pool *pgxpool.Pool, merchants []merchantJSON) error {
	merchantRepo := postgres.NewMerchantRepository(pool)
	productRepo := postgres.NewProductRepository(pool)

	for _, m := range merchants {
		var hours []byte
		if len(m.OpeningHours) > 0 {
			hours = m.OpeningHours
		}
		if err := merchantRepo.Upsert(ctx, &merchant.Merchant{
			ID:           m.ID,
			Name:         m.Name,
			Phone:        m.Phone,
			IsOpen:       m.IsOpen,
			OpeningHours: hours,
			DeliveryFee:  m.DeliveryFee,
		}); err != nil {
			return errors.Wrapf(err, "upsert merchant %s", m.ID)
		}

		for _, p := range m.Products {
			if err := productRepo.Upsert(ctx, &product.Product{
				ID:         p.ID,
				MerchantID: m.ID,
				Name:       p.Name,
				Price:      p.Price,
				Category:   p.Category,
				Available:  p.Available,
			}); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
		}

		slog.Info("upserted merchant",
			slog.String("id", m.ID),
			slog.String("name", m.Name),
			slog.Int("products", len(m.Products)),
		)
	}
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, coupons []couponJSON) error {
	admin := coupon.NewAdmin(postgres.NewCouponRepository(pool))

	for _, c := range coupons {
		err := admin.Create(ctx, &coupon.Coupon{
			Code:          c.Code,
			MerchantID:    c.MerchantID,
			Kind:          c.Kind,
			Value:         c.Value,
			MinOrderValue: c.MinOrderValue,
			MaxUses:       c.MaxUses,
			Active:        true,
		})
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Info("coupon exists", slog.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		default:
			slog.Info("created coupon", slog.String("code", c.Code), slog.String("kind", string(c.Kind)))
		}
	}
	return nil
}

func seedAPIKeys(ctx context.Context, pool *pgxpool.Pool, pepper string, keys []seedKey) error {
	repo := postgres.NewAPIKeyRepository(pool)

	for _, k := range keys {
		if k.key == "" {
			slog.Info("skipping api key without value", slog.String("id", k.id))
			continue
		}
		if err := repo.Create(ctx, &auth.APIKeyInfo{
			ID:      k.id,
			KeyHash: handler.HashKey([]byte(pepper), k.key),
			Name:    k.name,
			Subject: k.subject,
			Scopes:  []string{k.scope},
		}); err != nil {
			return errors.Wrapf(err, "create api key %s", k.id)
		}
		slog.Info("seeded api key", slog.String("id", k.id), slog.String("scope", k.scope))
	}
	return nil
}
