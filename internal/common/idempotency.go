package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	idemInFlight    = "in-flight"
	idemMaxBody     = 64 << 10
	idemReplayedHdr = "Idempotent-Replayed"
)

// Idem makes write endpoints safe to retry. The first request with a given
// Idempotency-Key runs normally and its response is stored; later requests
// from the same owner with the same key get the stored response back. A
// request still in flight answers 409, and a 5xx releases the key.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func idemKey(owner, route, header string) string {
	sum := sha256.Sum256([]byte(owner + "|" + route + "|" + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware implements chi middleware.
func (i Idem) Middleware(next http.Handler) http.Handler {
	ttl := i.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) > 128 {
			WriteError(w, Validation("invalid Idempotency-Key", map[string]string{"Idempotency-Key": "max"}))
			return
		}
		ctx := r.Context()
		key := idemKey(OwnerKey(ctx), r.Method+" "+r.URL.Path, header)
		claimed, err := i.R.SetNX(ctx, key, idemInFlight, ttl).Result()
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("idempotency_store_error")
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
			return
		}
		if !claimed {
			i.replay(ctx, w, key)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)

		storeCtx := context.WithoutCancel(ctx)
		if capture.status >= http.StatusInternalServerError || capture.truncated {
			_ = i.R.Del(storeCtx, key).Err()
			return
		}
		raw, err := json.Marshal(storedResponse{
			Status:      capture.status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
		})
		if err == nil {
			err = i.R.Set(storeCtx, key, raw, ttl).Err()
		}
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("idempotency_store_response_failed")
		}
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	var stored storedResponse
	if err != nil || string(raw) == idemInFlight || json.Unmarshal(raw, &stored) != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this Idempotency-Key is still being processed", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(idemReplayedHdr, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

// captureWriter tees the response so it can be stored for replays.
type captureWriter struct {
	http.ResponseWriter
	status    int
	wrote     bool
	body      bytes.Buffer
	truncated bool
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wrote {
		c.status = code
		c.wrote = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wrote = true
	if c.body.Len()+len(p) > idemMaxBody {
		c.truncated = true
	} else {
		c.body.Write(p)
	}
	return c.ResponseWriter.Write(p)
}
