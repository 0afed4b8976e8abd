package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/health"
)

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestLive(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{}.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReadyWithRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := health.Handler{
		Checks:  map[string]health.Check{"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() }},
		Timeout: 200 * time.Millisecond,
	}
	code, body := ready(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["redis"])

	mr.Close()
	code, body = ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.NotEqual(t, "ok", body["redis"])
}

func TestReadyFailingCheck(t *testing.T) {
	h := health.Handler{Checks: map[string]health.Check{
		"db": func(context.Context) error { return errors.New("db down") },
	}}
	code, body := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "db down", body["db"])
}

func TestReadyWhileDraining(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	health.SetReady(false)
	code, body := ready(t, health.Handler{})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", body["process"])
}
