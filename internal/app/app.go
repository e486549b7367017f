package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/notify"
	"github.com/xenking/marketplace/internal/storage/memory"
	"github.com/xenking/marketplace/internal/storage/postgres"
	"github.com/xenking/marketplace/internal/storage/redis"
	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Run creates all dependencies, serves HTTP until ctx is done and shuts down
// gracefully.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := newService(ctx, lg, pool, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.probes.Run(gctx, 10*time.Second)
	})
	if cfg.Sweep.Interval > 0 {
		lg.Info("Opening hours sweep enabled", zap.Duration("interval", cfg.Sweep.Interval))
		g.Go(func() error {
			return svc.sweeper.Run(gctx, cfg.Sweep.Interval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		svc.probes.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		svc.probes.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// service is the wired application on top of a migrated pool.
type service struct {
	handler http.Handler
	probes  *health.Registry
	sweeper *merchant.Sweeper
	closers []func()
}

// close waits for in-flight handoffs and releases broker connections.
func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *service, rerr error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "load timezone")
	}

	svc := &service{probes: health.New()}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()

	svc.probes.Register(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.Ping(pool)})
	svc.probes.Register(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.GoroutineCount(10000)})

	var locker order.Locker = memory.NewLocker()
	if cfg.Redis.URL != "" {
		client, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		locker = redis.NewLocker(client)
		svc.probes.Register(health.Check{Name: "redis", Kind: health.Readiness, Func: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		lg.Info("Using redis idempotency lock")
	}

	var notifier order.Notifier = notify.Log{}
	if cfg.AMQP.URL != "" {
		broker, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey)
		if err != nil {
			return nil, errors.Wrap(err, "connect amqp")
		}
		svc.closers = append(svc.closers, func() { _ = broker.Close() })
		notifier = broker
		svc.probes.Register(health.Check{Name: "amqp", Kind: health.Readiness, Func: broker.Check, Timeout: 2 * time.Second})
		lg.Info("Publishing handoffs", zap.String("exchange", cfg.AMQP.Exchange))
	}

	merchantRepo := postgres.NewMerchantRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)

	recordMode := coupon.RecordAtomic
	if !cfg.Checkout.AtomicRedemption {
		recordMode = coupon.RecordReadThenWrite
		lg.Warn("Coupon usage is recorded after commit, usage caps may be overrun")
	}

	validator := coupon.NewValidator(couponRepo)
	orders, err := order.NewService(order.Deps{
		Merchants:      merchantRepo,
		Products:       postgres.NewProductRepository(pool),
		Coupons:        validator,
		Orders:         postgres.NewOrderRepository(pool),
		Usage:          couponRepo,
		Locker:         locker,
		Notifier:       notifier,
		MeterProvider:  mp,
		TracerProvider: tp,
	}, order.Config{
		RecordMode:   recordMode,
		LockTTL:      cfg.Checkout.LockTTL,
		StrictStatus: cfg.Checkout.StrictStatus,
		Location:     loc,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	// Handoffs publish through the broker, so wait for them before closing it.
	svc.closers = append(svc.closers, orders.Wait)

	svc.sweeper = merchant.NewSweeper(merchantRepo, loc, cfg.Sweep.Concurrency)

	h := handler.New(handler.Deps{
		Orders:    orders,
		Coupons:   validator,
		Admin:     coupon.NewAdmin(couponRepo),
		Merchants: merchantRepo,
		Sweeper:   svc.sweeper,
		Location:  loc,
	})
	sec := handler.NewSecurityHandler(postgres.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper))

	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests(), httpmiddleware.Labeler())
	r.Get("/livez", svc.probes.LiveEndpoint)
	r.Get("/readyz", svc.probes.ReadyEndpoint)
	r.Route("/api", h.Routes(sec))

	svc.handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("marketplace-api", tp, mp),
	)
	return svc, nil
}
