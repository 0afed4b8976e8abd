package security

import (
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// BodyLimit bounds request bodies at Max bytes. A declared Content-Length
// over the limit is refused before the handler runs; a streamed body is cut
// off at Max and common.DecodeJSON turns that into the same 413.
type BodyLimit struct {
	Max int64
}

func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Body == nil || r.Body == http.NoBody:
		case r.ContentLength > b.Max:
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		default:
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}
