package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Reader is the read side of the order store used by the shopper endpoints.
type Reader interface {
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Order, int64, error)
	GetForUser(ctx context.Context, userID, id string) (Order, error)
}

// Handler serves the signed-in shopper's order history.
type Handler struct {
	Orders Reader
}

// List returns the caller's orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	page := common.ParsePage(r, 20, 100)
	orders, total, err := h.Orders.ListForUser(r.Context(), userID, page.Size, page.Offset())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to list orders", nil)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": page.Meta(w, total),
	})
}

// Get returns one of the caller's orders with its lines.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	ord, err := h.Orders.GetForUser(r.Context(), userID, chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}
