package common_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/common"
)

func TestWriteErrorUsesAppErrorStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.Validation("bad input", map[string]string{"quantity": "min"}))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, common.CodeValidation, body.Error.Code)
	require.Equal(t, "bad input", body.Error.Message)
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestOwnerKeyPrefersUser(t *testing.T) {
	ctx := common.WithAnonID(context.Background(), "guest-1")
	require.Equal(t, "anon:guest-1", common.OwnerKey(ctx))

	ctx = common.WithUserID(ctx, "42")
	require.Equal(t, "user:42", common.OwnerKey(ctx))
	require.Empty(t, common.OwnerKey(context.Background()))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	require.Equal(t, "10.0.0.9", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", common.ClientIP(req))
}

func TestIdemReplaysStoredResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	handler := common.Idem{R: rdb, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.JSON(w, http.StatusCreated, map[string]int{"call": calls})
	}))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "abc")
		req = req.WithContext(common.WithUserID(req.Context(), user))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := send("u1")
	require.Equal(t, http.StatusCreated, first.Code)
	replayed := send("u1")
	require.Equal(t, http.StatusCreated, replayed.Code)
	require.Equal(t, "true", replayed.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), replayed.Body.String())
	require.Equal(t, http.StatusCreated, send("u2").Code)
	require.Equal(t, 2, calls)
}

func TestIdemInFlightAndServerErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	status := http.StatusBadGateway
	handler := common.Idem{R: rdb}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment", nil)
		req.Header.Set("Idempotency-Key", "k1")
		req = req.WithContext(common.WithUserID(req.Context(), "u1"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusBadGateway, send())
	status = http.StatusOK
	require.Equal(t, http.StatusOK, send(), "a failed attempt releases the key")

	for _, k := range mr.Keys() {
		mr.Set(k, "in-flight")
	}
	require.Equal(t, http.StatusConflict, send())
}

func TestParsePageClamps(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?page=3&limit=500", nil)
	page := common.ParsePage(req, 20, 100)
	require.Equal(t, common.Page{Number: 3, Size: 100}, page)
	require.Equal(t, 200, page.Offset())

	rr := httptest.NewRecorder()
	meta := page.Meta(rr, 201)
	require.Equal(t, 3, meta.TotalPages)
	require.Equal(t, "201", rr.Header().Get("X-Total-Count"))
}

func TestValidateStructReportsJSONNames(t *testing.T) {
	type payload struct {
		ProductID string          `json:"productId" validate:"required"`
		Price     decimal.Decimal `json:"price" validate:"gt=0"`
	}
	err := common.ValidateStruct(common.NewValidator(), payload{Price: decimal.NewFromInt(-5)})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, map[string]string{"productId": "required", "price": "gt"}, appErr.Details)

	require.NoError(t, common.ValidateStruct(common.NewValidator(), payload{ProductID: "p1", Price: decimal.NewFromInt(5)}))
}
