package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// KeyFunc derives the bucket a request is counted against.
type KeyFunc func(*http.Request) string

// ByClientIP counts requests per client address.
func ByClientIP(r *http.Request) string { return "ip:" + common.ClientIP(r) }

// ByOwner counts signed-in users by id and everyone else by address.
func ByOwner(r *http.Request) string {
	if id, ok := common.UserID(r.Context()); ok {
		return "user:" + id
	}
	return ByClientIP(r)
}

// Handler enforces a Backend in front of the next handler. Backend errors
// fail open.
type Handler struct {
	Backend Backend
	Key     KeyFunc
	Scope   string
}

// Middleware implements chi-style middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Backend == nil || h.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Backend.Take(r.Context(), h.Scope+":"+h.Key(r))
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("scope", h.Scope).Msg("rate_limit_backend_error")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			retryAfter := max(int(time.Until(d.Reset).Seconds()), 0)
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
