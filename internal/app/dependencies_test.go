package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/remote"
)

func testDeps(cfg *config.Config) *Dependencies {
	return &Dependencies{Config: cfg, Logger: zerolog.Nop()}
}

func TestGatewaySelection(t *testing.T) {
	cases := map[string]string{"midtrans": "midtrans", "xendit": "xendit", "http": "http", "": "midtrans"}
	for provider, want := range cases {
		d := testDeps(&config.Config{PaymentProvider: provider})
		gw := d.Gateway()
		require.IsType(t, payment.Instrumented{}, gw)
		require.Equal(t, want, gw.Name(), provider)
	}
}

func TestOrdersBackend(t *testing.T) {
	d := testDeps(&config.Config{OrderBackend: "http", RemoteAPIBaseURL: "http://backend"})
	orders, err := d.Orders()
	require.NoError(t, err)
	require.IsType(t, remote.Orders{}, orders)
	require.IsType(t, remote.Addresses{}, d.Addresses())

	_, err = testDeps(&config.Config{OrderBackend: "postgres"}).Orders()
	require.Error(t, err)
}

func TestAddressesWithoutDatabaseUseRemote(t *testing.T) {
	d := testDeps(&config.Config{OrderBackend: "postgres"})
	require.IsType(t, remote.Addresses{}, d.Addresses())
}

func TestLimiterBackends(t *testing.T) {
	d := testDeps(&config.Config{})
	b, err := d.SlidingLimiter("2-M", "rl")
	require.NoError(t, err)
	require.IsType(t, ratelimit.Fixed{}, b)

	mr := miniredis.RunT(t)
	d.Redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = d.Redis.Close() })

	b, err = d.SlidingLimiter("2-M", "rl")
	require.NoError(t, err)
	require.IsType(t, ratelimit.Sliding{}, b)

	b, err = d.FixedLimiter("1-M", "api")
	require.NoError(t, err)
	first, err := b.Take(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, first.Allowed)
	second, err := b.Take(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, second.Allowed)

	_, err = d.FixedLimiter("bogus", "api")
	require.Error(t, err)
}

func TestTaskRedisOpt(t *testing.T) {
	opt, err := TaskRedisOpt("redis://user:pw@localhost:6380/2")
	require.NoError(t, err)
	require.Equal(t, "localhost:6380", opt.Addr)
	require.Equal(t, "pw", opt.Password)
	require.Equal(t, 2, opt.DB)
}

func TestHTTPClientPropagatesTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	var traceparent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(upstream.Close)

	ctx, span := tp.Tracer("test").Start(context.Background(), "checkout")
	defer span.End()

	client := HTTPClient(&config.Config{}, "gateway")
	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(ctx, req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Contains(t, traceparent, span.SpanContext().TraceID().String())
}
