package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the originating client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if candidate := strings.TrimSpace(first); candidate != "" {
			return candidate
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// AnonIDMiddleware copies the X-Anon-ID header into the request context so
// guest carts can be resolved by OwnerKey.
func AnonIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get("X-Anon-ID")); id != "" && len(id) <= 128 {
			r = r.WithContext(WithAnonID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
