package common

import "context"

type ctxKey string

const (
	userIDKey ctxKey = "auth/user-id"
	anonIDKey ctxKey = "cart/anon-id"
	rolesKey  ctxKey = "auth/roles"
)

// WithUserID stores the authenticated user identifier on ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the authenticated user identifier, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithAnonID stores a guest shopper identifier on ctx.
func WithAnonID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, anonIDKey, id)
}

// OwnerKey resolves the cart owner for the request context: "user:<id>" for
// signed-in shoppers, "anon:<id>" for guests. Empty when neither is known.
func OwnerKey(ctx context.Context) string {
	if id, ok := UserID(ctx); ok {
		return "user:" + id
	}
	if id, ok := ctx.Value(anonIDKey).(string); ok && id != "" {
		return "anon:" + id
	}
	return ""
}

// WithRoles stores the authenticated user's roles on ctx.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// HasRole reports whether the authenticated user carries role.
func HasRole(ctx context.Context, role string) bool {
	roles, _ := ctx.Value(rolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
