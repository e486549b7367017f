//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/storage/memory"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "market",
				"POSTGRES_PASSWORD": "market",
				"POSTGRES_DB":       "market",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://market:market@%s:%s/market?sslmode=disable", host, port.Port())
	pool, err = postgres.NewPool(ctx, url)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

// resetDB truncates every table and seeds one open merchant with a product.
func resetDB(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `TRUNCATE coupon_usages, order_items, orders, coupons, products, merchants, api_keys`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO merchants (id, name, phone, is_open, delivery_fee)
		VALUES ('m1', 'Pizza Place', '+15550001', TRUE, 2.50), ('m2', 'Sushi Bar', '', TRUE, 0)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO products (id, merchant_id, name, price)
		VALUES ('p1', 'm1', 'Margherita', 10.00)`)
	require.NoError(t, err)
}

func newService(t *testing.T, mode coupon.RecordMode) *order.Service {
	t.Helper()
	coupons := postgres.NewCouponRepository(pool)
	svc, err := order.NewService(order.Deps{
		Merchants: postgres.NewMerchantRepository(pool),
		Products:  postgres.NewProductRepository(pool),
		Coupons:   coupon.NewValidator(coupons),
		Orders:    postgres.NewOrderRepository(pool),
		Usage:     coupons,
		Locker:    memory.NewLocker(),
	}, order.Config{RecordMode: mode})
	require.NoError(t, err)
	return svc
}

func request(customer, key, code string) order.SubmitRequest {
	return order.SubmitRequest{
		IdempotencyKey: key,
		MerchantID:     "m1",
		CustomerID:     customer,
		CustomerName:   "Customer " + customer,
		Phone:          "+1555" + customer,
		Fulfillment:    order.FulfillmentDelivery,
		Address:        &order.Address{Street: "Main St", Number: "12", District: "Center", City: "Springfield"},
		Items:          []order.ItemRequest{{ProductID: "p1", Quantity: 2, Note: "extra basil"}},
		CouponCode:     code,
		PaymentMethod:  order.PaymentCard,
	}
}

func intPtr(n int) *int { return &n }

func TestCouponRepository_Lookup(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := postgres.NewCouponRepository(pool)

	require.NoError(t, repo.Create(ctx, &coupon.Coupon{ID: "global", Code: "PIZZA", Kind: coupon.KindFixed, Value: decimal.NewFromInt(1), Active: true, CreatedAt: time.Now()}))
	require.NoError(t, repo.Create(ctx, &coupon.Coupon{ID: "own", Code: "PIZZA", MerchantID: "m1", Kind: coupon.KindFixed, Value: decimal.NewFromInt(2), Active: true, CreatedAt: time.Now()}))

	c, err := repo.FindActiveByCode(ctx, "PIZZA", "m1")
	require.NoError(t, err)
	assert.Equal(t, "own", c.ID)

	c, err = repo.FindActiveByCode(ctx, "PIZZA", "m2")
	require.NoError(t, err)
	assert.Equal(t, "global", c.ID)
	assert.True(t, c.Global())

	_, err = repo.FindActiveByCode(ctx, "NOPE", "m1")
	assert.ErrorIs(t, err, coupon.ErrInvalidCoupon)

	err = repo.Create(ctx, &coupon.Coupon{ID: "dup", Code: "PIZZA", Kind: coupon.KindFixed, Value: decimal.NewFromInt(1), CreatedAt: time.Now()})
	assert.ErrorIs(t, err, coupon.ErrDuplicateCode)

	require.NoError(t, repo.SetActive(ctx, "own", false))
	c, err = repo.FindActiveByCode(ctx, "PIZZA", "m1")
	require.NoError(t, err)
	assert.Equal(t, "global", c.ID)
	assert.ErrorIs(t, repo.SetActive(ctx, "missing", true), coupon.ErrNotFound)
}

func TestCouponRepository_UpdateKeepsUsage(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	coupons := postgres.NewCouponRepository(pool)
	require.NoError(t, coupons.Create(ctx, &coupon.Coupon{
		ID: "c1", Code: "PIZZA", MerchantID: "m1", Kind: coupon.KindFixed, Value: decimal.NewFromInt(1), Active: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, coupons.Create(ctx, &coupon.Coupon{
		ID: "c2", Code: "PIZZA", Kind: coupon.KindFixed, Value: decimal.NewFromInt(1), Active: true, CreatedAt: time.Now(),
	}))
	svc := newService(t, coupon.RecordAtomic)
	_, err := svc.Submit(ctx, request("u1", "attempt-1", "PIZZA"))
	require.NoError(t, err)
	svc.Wait()

	admin := coupon.NewAdmin(coupons)
	_, err = admin.Update(ctx, "c1", coupon.Terms{Kind: coupon.KindFixed, Value: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, coupon.ErrDuplicateCode)

	require.NoError(t, coupons.Delete(ctx, "c2"))
	minimum := decimal.NewFromInt(5)
	c, err := admin.Update(ctx, "c1", coupon.Terms{Kind: coupon.KindFixed, Value: decimal.NewFromInt(2), MinOrderValue: &minimum, MaxUses: intPtr(10)})
	require.NoError(t, err)
	assert.True(t, c.Global())
	assert.Equal(t, 1, c.UsedCount)
	assert.Equal(t, 10, *c.MaxUses)

	_, err = coupon.NewValidator(coupons).Validate(ctx, coupon.Request{
		Code: "PIZZA", MerchantID: "m2", Subtotal: decimal.NewFromInt(20), CustomerID: "u1",
	})
	assert.ErrorIs(t, err, coupon.ErrAlreadyUsed)

	_, err = admin.Update(ctx, "missing", coupon.Terms{Kind: coupon.KindFixed, Value: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestOrderService_AtomicRedemptionUnderConcurrency(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	const maxUses = 3
	coupons := postgres.NewCouponRepository(pool)
	require.NoError(t, coupons.Create(ctx, &coupon.Coupon{
		ID: "c1", Code: "LIMITED", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10),
		MaxUses: intPtr(maxUses), Active: true, CreatedAt: time.Now(),
	}))
	svc := newService(t, coupon.RecordAtomic)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := range 10 {
		wg.Go(func() {
			customer := fmt.Sprintf("u%d", i)
			_, err := svc.Submit(ctx, request(customer, "key-"+customer, "limited"))
			if err != nil {
				assert.ErrorIs(t, err, coupon.ErrExhausted)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		})
	}
	wg.Wait()
	svc.Wait()

	assert.Equal(t, maxUses, ok)
	n, err := coupons.UsedCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, maxUses, n)

	var orders int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Equal(t, maxUses, orders)
}

func TestOrderService_RoundTripAndReplay(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	coupons := postgres.NewCouponRepository(pool)
	require.NoError(t, coupons.Create(ctx, &coupon.Coupon{
		ID: "c1", Code: "FIVE", Kind: coupon.KindFixed, Value: decimal.NewFromInt(5), Active: true, CreatedAt: time.Now(),
	}))
	svc := newService(t, coupon.RecordAtomic)

	res, err := svc.Submit(ctx, request("u1", "k1", "five"))
	require.NoError(t, err)
	require.False(t, res.Replayed)
	assert.Equal(t, "17.50", res.Order.Total.StringFixed(2))

	replay, err := svc.Submit(ctx, request("u1", "k1", "five"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Order.ID, replay.Order.ID)

	got, err := postgres.NewOrderRepository(pool).Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", got.Subtotal.StringFixed(2))
	assert.Equal(t, "2.50", got.DeliveryFee.StringFixed(2))
	assert.Equal(t, "5.00", got.Discount.StringFixed(2))
	assert.Equal(t, "c1", got.CouponID)
	require.NotNil(t, got.Address)
	assert.Equal(t, "Springfield", got.Address.City)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "extra basil", got.Items[0].Note)

	_, err = svc.Submit(ctx, request("u1", "k2", "five"))
	assert.ErrorIs(t, err, coupon.ErrAlreadyUsed)

	// Deleting the coupon keeps the order and drops the usage record.
	require.NoError(t, coupons.Delete(ctx, "c1"))
	got, err = postgres.NewOrderRepository(pool).Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CouponID)
	assert.Equal(t, "FIVE", got.CouponCode)
	used, err := coupons.HasUsage(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.False(t, used)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	svc := newService(t, coupon.RecordAtomic)

	res, err := svc.Submit(ctx, request("u1", "k1", ""))
	require.NoError(t, err)

	repo := postgres.NewOrderRepository(pool)
	require.NoError(t, repo.UpdateStatus(ctx, res.Order.ID, order.StatusPending, order.StatusConfirmed))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, res.Order.ID, order.StatusPending, order.StatusCancelled), order.ErrStatusConflict)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", order.StatusPending, order.StatusConfirmed), order.ErrNotFound)
}

func TestMerchantRepository_Sweep(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	_, err := pool.Exec(ctx, `UPDATE merchants SET opening_hours = '{"monday":{"open":"09:00","close":"17:00","enabled":true}}' WHERE id = 'm1'`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE merchants SET opening_hours = '{}' WHERE id = 'm2'`)
	require.NoError(t, err)

	repo := postgres.NewMerchantRepository(pool)
	scheduled, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "m1", scheduled[0].ID)

	require.NoError(t, repo.SetOpen(ctx, "m1", false))
	m, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, m.IsOpen)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, merchant.ErrNotFound)
}

func TestAPIKeyRepository(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := postgres.NewAPIKeyRepository(pool)

	require.NoError(t, repo.Create(ctx, &auth.APIKeyInfo{
		ID: "k1", KeyHash: "hash", Name: "ana", Subject: "u1", Scopes: []string{auth.ScopeCustomer},
	}))
	info, err := repo.FindByHash(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "u1", info.Subject)
	assert.True(t, info.HasScope(auth.ScopeCustomer))

	_, err = repo.FindByHash(ctx, "other")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestCouponRepository_Import(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := postgres.NewCouponRepository(pool)

	require.NoError(t, repo.Create(ctx, &coupon.Coupon{ID: "existing", Code: "SPRING10", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(5), Active: true, CreatedAt: time.Now()}))

	batch := []coupon.Coupon{
		{ID: "i1", Code: "SPRING10", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10), Active: true, CreatedAt: time.Now()},
		{ID: "i2", Code: "SUMMER10", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10), Active: true, CreatedAt: time.Now()},
		{ID: "i3", Code: "SPRING10", MerchantID: "m1", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10), Active: true, CreatedAt: time.Now()},
	}
	n, err := repo.Import(ctx, batch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "global SPRING10 already exists")

	c, err := repo.Get(ctx, "existing")
	require.NoError(t, err)
	assert.Equal(t, "5", c.Value.String())

	c, err = repo.FindActiveByCode(ctx, "SPRING10", "m1")
	require.NoError(t, err)
	assert.Equal(t, "i3", c.ID)
}

func TestUpsert_MerchantAndProduct(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	merchants := postgres.NewMerchantRepository(pool)
	products := postgres.NewProductRepository(pool)

	hours := []byte(`{"friday":{"open":"18:00","close":"01:00","enabled":true}}`)
	require.NoError(t, merchants.Upsert(ctx, &merchant.Merchant{ID: "m3", Name: "Night Owl", IsOpen: true, OpeningHours: hours, DeliveryFee: decimal.RequireFromString("1.50")}))
	require.NoError(t, merchants.Upsert(ctx, &merchant.Merchant{ID: "m3", Name: "Night Owl Bar", OpeningHours: hours, DeliveryFee: decimal.RequireFromString("1.50")}))

	m, err := merchants.Get(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, "Night Owl Bar", m.Name)
	assert.False(t, m.IsOpen)
	assert.JSONEq(t, string(hours), string(m.OpeningHours))

	require.NoError(t, products.Upsert(ctx, &product.Product{ID: "p9", MerchantID: "m3", Name: "Fries", Price: decimal.RequireFromString("4.00"), Available: true}))
	p, err := products.GetByID(ctx, "p9")
	require.NoError(t, err)
	assert.Equal(t, "4.00", p.Price.StringFixed(2))
}
