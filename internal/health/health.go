package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/toko-checkout/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process-wide readiness flag. The API clears it when a
// shutdown begins so load balancers drain traffic before the listener closes.
func SetReady(v bool) { ready.Store(v) }

// Check tests a single dependency.
type Check func(ctx context.Context) error

// Handler exposes liveness and readiness endpoints.
type Handler struct {
	Checks  map[string]Check
	Timeout time.Duration
}

// Live always answers ok while the process is serving.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check and reports 503 when any fails or the process is
// draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.Checks)+1)
	healthy := ready.Load()
	if !healthy {
		status["process"] = "draining"
	}
	for name, check := range h.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := check(ctx)
		cancel()
		if err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
