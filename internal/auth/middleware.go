package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Middleware resolves the caller from a bearer header or the access cookie.
type Middleware struct {
	Verifier     *Verifier
	AccessCookie string
}

// Authenticate attaches the user when a valid token is present. Guests and
// bad tokens pass through anonymously so cart routes keep working.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return m.guard(next, false)
}

// RequireAuth answers 401 unless the request carries a valid token.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return m.guard(next, true)
}

func (m Middleware) guard(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerOrCookie(r, m.AccessCookie)
		if raw == "" || m.Verifier == nil {
			if required {
				common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.Verifier.ParseAccessToken(raw)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("access_token_rejected")
			if required {
				common.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := common.WithRoles(common.WithUserID(r.Context(), id.UserID), id.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole answers 403 for users without role. Mount it behind RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if common.HasRole(r.Context(), role) {
				next.ServeHTTP(w, r)
				return
			}
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
		})
	}
}

func bearerOrCookie(r *http.Request, cookie string) string {
	if scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	if cookie == "" {
		return ""
	}
	if c, err := r.Cookie(cookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
