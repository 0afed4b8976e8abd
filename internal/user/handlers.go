package user

import (
	"context"
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Lister lists a user's addresses.
type Lister interface {
	List(ctx context.Context, userID string, limit, offset int) ([]Address, int64, error)
}

// Handler exposes the caller's saved addresses for the checkout address picker.
type Handler struct {
	Addresses Lister
}

// List handles GET /api/v1/users/me/addresses.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
		return
	}
	page := common.ParsePage(r, 20, 100)
	addresses, total, err := h.Addresses.List(r.Context(), userID, page.Size, page.Offset())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to list addresses", nil)
		return
	}
	if addresses == nil {
		addresses = []Address{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       addresses,
		"pagination": page.Meta(w, total),
	})
}
