package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Handler exposes the cart ledger over HTTP. The owner is resolved from the
// authenticated user or the guest X-Anon-ID header.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	Currency string
}

type addItemRequest struct {
	ProductID        string        `json:"productId" validate:"required,max=64"`
	Name             string        `json:"name" validate:"required,max=256"`
	Price            pricing.Money `json:"price" validate:"gte=0"`
	Quantity         int           `json:"quantity" validate:"omitempty,min=1,max=99"`
	Variant          *Variant      `json:"variant,omitempty"`
	Size             string        `json:"size,omitempty" validate:"max=64"`
	Color            string        `json:"color,omitempty" validate:"max=64"`
	Sizes            []string      `json:"sizes,omitempty"`
	Colors           []string      `json:"colors,omitempty"`
	ImageURL         string        `json:"imageUrl,omitempty" validate:"omitempty,url"`
	FreeShipping     bool          `json:"freeShipping"`
	FlatShippingRate pricing.Money `json:"flatShippingRate" validate:"gte=0"`
	Stock            int           `json:"stock" validate:"gte=0"`
}

func (req addItemRequest) item() Item {
	return Item{
		ProductID:        strings.TrimSpace(req.ProductID),
		Name:             strings.TrimSpace(req.Name),
		Price:            req.Price,
		Quantity:         req.Quantity,
		Variant:          req.Variant,
		Size:             req.Size,
		Color:            req.Color,
		Sizes:            req.Sizes,
		Colors:           req.Colors,
		ImageURL:         req.ImageURL,
		FreeShipping:     req.FreeShipping,
		FlatShippingRate: req.FlatShippingRate,
		Stock:            req.Stock,
	}
}

// Get returns the current cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Snapshot(r.Context(), common.OwnerKey(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, snap)
}

// AddItem adds a product or increments its quantity.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, req); err != nil {
		common.WriteError(w, err)
		return
	}
	snap, err := h.Svc.Add(r.Context(), common.OwnerKey(r.Context()), req.item())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, snap)
}

// DecreaseItem lowers a line's quantity by one. At quantity 1 the cart is
// returned unchanged next to a MINIMUM_QUANTITY error.
func (h *Handler) DecreaseItem(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Decrease(r.Context(), common.OwnerKey(r.Context()), chi.URLParam(r, "productId"))
	if errors.Is(err, ErrMinimumQuantity) {
		common.JSON(w, http.StatusConflict, map[string]any{
			"error": common.ErrorBody{Code: "MINIMUM_QUANTITY", Message: "minimum quantity reached"},
			"data":  h.view(snap),
		})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, snap)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Remove(r.Context(), common.OwnerKey(r.Context()), chi.URLParam(r, "productId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, snap)
}

// SetVariant changes the selected variant of a line. An empty body clears it.
func (h *Handler) SetVariant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Variant *Variant `json:"variant"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Variant != nil && (strings.TrimSpace(req.Variant.ID) == "" || req.Variant.Price.IsNegative()) {
		common.WriteError(w, common.Validation("invalid variant", map[string]string{"variant": "invalid"}))
		return
	}
	snap, err := h.Svc.SetVariant(r.Context(), common.OwnerKey(r.Context()), chi.URLParam(r, "productId"), req.Variant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, snap)
}

// Reset empties the cart.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Reset(r.Context(), common.OwnerKey(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, snap)
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, snap Snapshot) {
	common.JSON(w, status, map[string]any{"data": h.view(snap)})
}

func (h *Handler) view(snap Snapshot) map[string]any {
	items := snap.Items
	if items == nil {
		items = []Item{}
	}
	return map[string]any{
		"items":      items,
		"totalItems": snap.TotalItems,
		"total":      snap.Total.Round(2),
		"currency":   h.Currency,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOwnerRequired):
		common.JSONError(w, http.StatusBadRequest, "CART_OWNER_REQUIRED", "sign in or send X-Anon-ID", nil)
	case errors.Is(err, ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "cart item not found", nil)
	case errors.Is(err, ErrMinimumQuantity):
		common.JSONError(w, http.StatusConflict, "MINIMUM_QUANTITY", "minimum quantity reached", nil)
	case errors.Is(err, ErrOutOfStock):
		common.JSONError(w, http.StatusConflict, "OUT_OF_STOCK", "requested quantity exceeds stock", nil)
	case errors.Is(err, ErrInvalidItem):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid cart item", nil)
	case errors.Is(err, ErrPersist):
		common.JSONError(w, http.StatusServiceUnavailable, "CART_PERSIST_FAILED", "cart could not be saved, please retry", nil)
	default:
		common.WriteError(w, err)
	}
}
