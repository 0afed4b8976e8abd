package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/auth"
	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/health"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/reconcile"
	"github.com/noah-isme/toko-checkout/internal/resilience"
	"github.com/noah-isme/toko-checkout/internal/security"
	"github.com/noah-isme/toko-checkout/internal/user"
)

const accessCookie = "access_token"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	if err := resilience.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Error().Err(err).Msg("register resilience metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, "toko-checkout-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()
	if err := deps.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	router, sessions, err := newRouter(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}
	go sessions.Run(ctx, time.Minute)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func newRouter(deps *app.Dependencies) (http.Handler, *checkout.Sessions, error) {
	cfg, logger := deps.Config, deps.Logger

	verifier, err := auth.NewVerifier(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience})
	if err != nil {
		return nil, nil, err
	}
	authMiddleware := auth.Middleware{Verifier: verifier, AccessCookie: accessCookie}

	cartSvc := newCartService(deps)
	cartHandler := &cart.Handler{Svc: cartSvc, Validate: deps.Validator, Currency: cfg.CurrencyCode}

	orders, err := deps.Orders()
	if err != nil {
		return nil, nil, err
	}
	checkoutDeps := &checkout.Deps{
		Orders:    orders,
		Gateway:   deps.Gateway(),
		Addresses: deps.Addresses(),
		Cart:      cartSvc,
		Timeouts: checkout.Timeouts{
			Order:   cfg.Checkout.OrderTimeout,
			Session: cfg.Checkout.SessionTimeout,
			Verify:  cfg.Checkout.VerifyTimeout,
		},
		PendingTTL: cfg.Checkout.PendingTTL,
		Currency:   cfg.CurrencyCode,
		Logger:     logger.With().Str("component", "checkout").Logger(),
	}
	if deps.Redis != nil {
		checkoutDeps.Pending = checkout.RedisPendingStore{R: deps.Redis}
	}
	if deps.Tasks != nil {
		checkoutDeps.Reconciler = reconcile.Reporter{Client: deps.Tasks, MaxRetry: cfg.ReconcileMaxRetry}
	}
	sessions := checkout.NewSessions(checkoutDeps)
	checkoutHandler := &checkout.Handler{
		Sessions: sessions,
		Cart:     cartSvc,
		Builder:  checkout.Builder{Validate: deps.Validator, Pricing: pricing.Engine{TaxRate: cfg.TaxRate}, Logger: logger},
		Validate: deps.Validator,
	}

	apiLimit, err := deps.FixedLimiter(cfg.RateLimitAPI, "rl:api")
	if err != nil {
		return nil, nil, err
	}
	checkoutLimit, err := deps.SlidingLimiter(cfg.RateLimitCheckout, "rl:checkout")
	if err != nil {
		return nil, nil, err
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, cfg.Obs.HTTPBuckets, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Obs.EnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Anon-ID", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-Total-Count", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	checks := map[string]health.Check{}
	if deps.DB != nil {
		checks["db"] = deps.PingDB
	}
	if deps.Redis != nil {
		checks["redis"] = deps.PingRedis
	}
	healthHandler := health.Handler{Checks: checks}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(ratelimit.Handler{Backend: apiLimit, Key: ratelimit.ByClientIP, Scope: "api"}.Middleware)
		v.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
		v.Use(security.CSRF{AccessCookie: accessCookie}.Middleware)

		v.Route("/cart", func(c chi.Router) {
			c.Use(authMiddleware.Authenticate)
			c.Use(common.AnonIDMiddleware)
			c.Get("/", cartHandler.Get)
			c.Delete("/", cartHandler.Reset)
			c.Post("/items", cartHandler.AddItem)
			c.Post("/items/{productId}/decrease", cartHandler.DecreaseItem)
			c.Put("/items/{productId}/variant", cartHandler.SetVariant)
			c.Delete("/items/{productId}", cartHandler.RemoveItem)
		})

		v.Route("/checkout", func(c chi.Router) {
			c.Use(authMiddleware.RequireAuth)
			c.Get("/", checkoutHandler.Status)
			c.Post("/quote", checkoutHandler.Quote)
			c.Group(func(w chi.Router) {
				w.Use(idem.Middleware)
				w.With(ratelimit.Handler{Backend: checkoutLimit, Key: ratelimit.ByOwner, Scope: "checkout"}.Middleware).
					Post("/", checkoutHandler.Submit)
				w.Post("/payment", checkoutHandler.ConfirmPayment)
			})
			c.Post("/dismiss", checkoutHandler.Dismiss)
			c.Post("/payment-error", checkoutHandler.PaymentError)
		})

		if deps.DB == nil {
			return
		}
		orderStore := order.Store{DB: deps.DB}
		orderHandler := &order.Handler{Orders: orderStore}
		orderAdmin := &order.AdminHandler{Orders: orderStore}
		addressHandler := &user.Handler{Addresses: user.Service{DB: deps.DB}}

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)
			authR.Get("/orders", orderHandler.List)
			authR.Get("/orders/{orderId}", orderHandler.Get)
			authR.Get("/users/me/addresses", addressHandler.List)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(auth.RequireRole("admin"))
			admin.Get("/orders/needs-review", orderAdmin.ListNeedsReview)
			admin.Post("/orders/{id}/payment", orderAdmin.ResolvePayment)
		})
	})

	return r, sessions, nil
}

func newCartService(deps *app.Dependencies) *cart.Service {
	cfg := deps.Config
	svc := &cart.Service{
		Store:   cart.NewMemoryStore(),
		LockTTL: cfg.CartLockTTL,
		Logger:  deps.Logger.With().Str("component", "cart").Logger(),
	}
	if cfg.CartStore == "redis" && deps.Redis != nil {
		svc.Store = cart.RedisStore{R: deps.Redis, TTL: cfg.CartTTL}
		svc.Locker = lock.Locker{R: deps.Redis, RetryBackoff: 50 * time.Millisecond}
	}
	return svc
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
