// Package app wires pos-server: storage, domain services, the HTTP stack and
// graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/mall-pos/db"
	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/cart"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/promo"
	"github.com/xenking/mall-pos/internal/domain/report"
	"github.com/xenking/mall-pos/internal/handler"
	"github.com/xenking/mall-pos/internal/seed"
	"github.com/xenking/mall-pos/internal/storage"
	"github.com/xenking/mall-pos/internal/storage/memory"
	rediscart "github.com/xenking/mall-pos/internal/storage/redis"
	"github.com/xenking/mall-pos/pkg/health"
	"github.com/xenking/mall-pos/pkg/httpmiddleware"
)

// Run creates all dependencies, serves HTTP until ctx is cancelled and then
// drains. It is the single wiring point of pos-server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", string(cfg.Storage.Driver)),
	)

	stores, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer stores.Close()

	if err := bootstrap(ctx, lg, cfg, stores); err != nil {
		return errors.Wrap(err, "bootstrap")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("storage", 5*time.Second, stores.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var carts cart.Store = memory.NewCarts()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		store := rediscart.NewCartStore(client, cfg.Redis.CartTTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(store))
		carts = store
	} else {
		lg.Warn("Redis is not configured, carts are kept in process memory")
	}

	h, err := newHandler(ctx, m, cfg, stores, carts, healthSvc)
	if err != nil {
		return err
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler builds the root router: probes at the top level and the API
// under /api, all behind the shared middleware stack.
func newHandler(
	ctx context.Context,
	m httpmiddleware.Telemetry,
	cfg *Config,
	stores *storage.Stores,
	carts cart.Store,
	healthSvc *health.Health,
) (http.Handler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "load timezone")
	}

	checkout, err := order.NewService(stores.Checkout, stores.Orders, promo.NewRepoValidator(stores.Promos),
		order.WithMaxAttempts(cfg.Checkout.MaxAttempts),
		order.WithRetryBackoff(cfg.Checkout.RetryBackoff),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout service")
	}

	api := handler.New(handler.Deps{
		Products: stores.Products,
		Orders:   stores.Orders,
		Checkout: checkout,
		Carts:    carts,
		Promos:   stores.Promos,
		Reports:  report.NewService(stores.Products, stores.Orders, loc),
		APIKeys:  stores.APIKeys,
		Pepper:   []byte(cfg.APIKeyPepper),
	})

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.With(httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})).Mount("/api", api.Routes())

	return httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("pos-api", m),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins: cfg.CORS.Origins,
			Headers: []string{
				"Content-Type", handler.APIKeyHeader, handler.RegisterHeader,
				handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader,
			},
			Expose:      []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			Credentials: cfg.CORS.AllowCredentials,
			MaxAge:      86400,
		}),
	), nil
}

// bootstrap stores the configured admin key and fills an empty memory store
// with the sample catalog.
func bootstrap(ctx context.Context, lg *zap.Logger, cfg *Config, stores *storage.Stores) error {
	if cfg.AdminKey != "" {
		if err := seed.APIKey(ctx, stores.APIKeys, []byte(cfg.APIKeyPepper),
			"bootstrap", "admin", auth.RoleAdmin, cfg.AdminKey); err != nil {
			return err
		}
		lg.Info("Bootstrap admin key stored")
	}
	if cfg.Storage.Driver != storage.Memory {
		return nil
	}

	products, err := seed.ParseProducts(db.Products)
	if err != nil {
		return err
	}
	res, err := seed.Products(ctx, stores.Products, products)
	if err != nil {
		return err
	}
	if _, err := seed.Promos(ctx, stores.Promos, seed.DefaultPromos()); err != nil {
		return err
	}
	lg.Info("Demo catalog loaded", zap.Int("products", res.Created))
	if cfg.AdminKey == "" {
		lg.Warn("No admin key configured, the memory store accepts no API keys")
	}
	return nil
}
