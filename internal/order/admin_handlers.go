package order

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Reviewer is the operator side of the order store.
type Reviewer interface {
	ListNeedsReview(ctx context.Context, limit, offset int) ([]Order, int64, error)
	ResolvePayment(ctx context.Context, id, paymentID string) error
}

// AdminHandler lets operators work through orders whose gateway payment
// could not be verified at checkout.
type AdminHandler struct {
	Orders Reviewer
}

type resolvePaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"max=128"`
}

// ListNeedsReview returns orders with a failed payment status, oldest first.
func (h *AdminHandler) ListNeedsReview(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePage(r, 50, 200)
	orders, total, err := h.Orders.ListNeedsReview(r.Context(), page.Size, page.Offset())
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

// ResolvePayment marks a reviewed order as paid.
func (h *AdminHandler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	var req resolvePaymentRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	err := h.Orders.ResolvePayment(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.PaymentID))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "payment already settled", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to update order", nil)
	}
}
