package app

import (
	"fmt"
	"net/http"
	"strings"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/remote"
	"github.com/noah-isme/toko-checkout/internal/resilience"
	"github.com/noah-isme/toko-checkout/internal/user"
)

// HTTPClient builds a retrying, circuit-broken client for one upstream. The
// otelhttp transport gives every attempt a client span and forwards the
// caller's trace context to the upstream.
func HTTPClient(cfg *config.Config, target string) resilience.HTTPClient {
	rc := cfg.Resilience
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return target + " " + r.Method
				}),
			),
		},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       target,
			MinRequests:  rc.MinRequests,
			FailureRatio: rc.FailureRatio,
			OpenFor:      rc.OpenFor,
		}),
		BaseBackoff: rc.RetryBase,
		MaxAttempts: rc.MaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.Checkout.OrderTimeout,
	}
}

// Remote returns the storefront backend client.
func (d *Dependencies) Remote() remote.Client {
	return remote.Client{
		BaseURL: d.Config.RemoteAPIBaseURL,
		Token:   d.Config.RemoteAPIToken,
		HTTP:    HTTPClient(d.Config, "storefront-api"),
	}
}

// Orders selects the order-creation backend.
func (d *Dependencies) Orders() (checkout.OrderCreator, error) {
	switch d.Config.OrderBackend {
	case "http":
		return remote.Orders{Client: d.Remote()}, nil
	default:
		if d.DB == nil {
			return nil, fmt.Errorf("order backend %q needs a database", d.Config.OrderBackend)
		}
		return order.Store{DB: d.DB}, nil
	}
}

// Addresses selects the address book. The local table is used whenever a
// database is attached.
func (d *Dependencies) Addresses() checkout.AddressBook {
	if d.DB != nil && d.Config.OrderBackend != "http" {
		return user.Service{DB: d.DB}
	}
	return remote.Addresses{Client: d.Remote()}
}

// Gateway builds the configured payment gateway with metrics and tracing.
func (d *Dependencies) Gateway() payment.Gateway {
	cfg := d.Config
	var gw payment.Gateway
	switch cfg.PaymentProvider {
	case "xendit":
		gw = payment.Xendit{SecretKey: cfg.XenditSecretKey, BaseURL: cfg.XenditBaseURL, HTTP: HTTPClient(cfg, "xendit")}
	case "http":
		gw = remote.Payments{Client: d.Remote()}
	default:
		gw = payment.Midtrans{
			ServerKey: cfg.MidtransServerKey,
			BaseURL:   cfg.MidtransBaseURL,
			Sandbox:   cfg.PaymentSandbox,
			HTTP:      HTTPClient(cfg, "midtrans"),
		}
	}
	return payment.Instrumented{Gateway: gw}
}

// FixedLimiter builds a ulule limiter for a formatted rate such as "300-M",
// stored in Redis when available and in memory otherwise.
func (d *Dependencies) FixedLimiter(formatted, prefix string) (ratelimit.Backend, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return nil, fmt.Errorf("rate %q: %w", formatted, err)
	}
	var store limiter.Store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix})
	if d.Redis != nil {
		store, err = limiterredis.NewStoreWithOptions(d.Redis, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, err
		}
	}
	return ratelimit.Fixed{Limiter: limiter.New(store, rate)}, nil
}

// SlidingLimiter builds a Redis sliding-window limiter, falling back to a
// fixed in-memory window without Redis.
func (d *Dependencies) SlidingLimiter(formatted, prefix string) (ratelimit.Backend, error) {
	if d.Redis == nil {
		return d.FixedLimiter(formatted, prefix)
	}
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return nil, fmt.Errorf("rate %q: %w", formatted, err)
	}
	return ratelimit.Sliding{Client: d.Redis, Prefix: prefix + ":", Rate: rate}, nil
}
