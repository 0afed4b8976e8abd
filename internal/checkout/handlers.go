package checkout

import (
	"context"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

// CartReader loads the shopper's cart.
type CartReader interface {
	Snapshot(ctx context.Context, owner string) (cart.Snapshot, error)
}

// Handler exposes quoting and the checkout state machine over HTTP.
type Handler struct {
	Sessions *Sessions
	Cart     CartReader
	Builder  Builder
	Validate *validator.Validate
}

type quoteRequest struct {
	Product *ProductSelection `json:"product,omitempty"`
}

type submitRequest struct {
	ShippingAddressID string            `json:"shippingAddressId"`
	BillingAddressID  string            `json:"billingAddressId,omitempty"`
	PaymentMethod     PaymentMethod     `json:"paymentMethod"`
	Notes             string            `json:"notes,omitempty" validate:"max=500"`
	Product           *ProductSelection `json:"product,omitempty"`
}

type paymentErrorRequest struct {
	Message string `json:"message" validate:"max=500"`
}

// Quote prices the cart, or a single product when one is posted, without
// submitting anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	draft, err := h.draft(r, req.Product)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quoteView(draft)})
}

// Submit starts a checkout. COD orders are placed immediately; online
// payments return the gateway session to hand to the payment widget.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	var req submitRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, req); err != nil {
		common.WriteError(w, err)
		return
	}
	draft, err := h.draft(r, req.Product)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	sub := Submission{
		UserID:            userID,
		CartOwner:         common.OwnerKey(r.Context()),
		Draft:             draft,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		Method:            PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.PaymentMethod)))),
		Notes:             strings.TrimSpace(req.Notes),
	}
	res, err := h.Sessions.Begin(r.Context(), userID, sub)
	h.writeResult(w, res, err)
}

// ConfirmPayment resumes a pending checkout with the gateway's success
// response.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var resp payment.GatewayResponse
	if err := common.DecodeJSON(r, &resp); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, resp); err != nil {
		common.WriteError(w, err)
		return
	}
	h.resume(w, r, Paid(resp))
}

// Dismiss cancels a pending checkout after the shopper closed the payment
// widget. No order is created.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.resume(w, r, Dismissed())
}

// PaymentError cancels a pending checkout after the gateway reported an error.
func (h *Handler) PaymentError(w http.ResponseWriter, r *http.Request) {
	var req paymentErrorRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	h.resume(w, r, GatewayFailed(req.Message))
}

// Status reports the shopper's checkout state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	o := h.Sessions.For(userID)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"state": o.State(), "busy": o.Busy()},
	})
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request, outcome GatewayOutcome) {
	userID, _ := common.UserID(r.Context())
	res, err := h.Sessions.Resume(r.Context(), userID, outcome)
	h.writeResult(w, res, err)
}

func (h *Handler) draft(r *http.Request, product *ProductSelection) (Draft, error) {
	if product != nil {
		if err := common.ValidateStruct(h.Validate, product); err != nil {
			return Draft{}, err
		}
		return h.Builder.FromSelection(*product), nil
	}
	snap, err := h.Cart.Snapshot(r.Context(), common.OwnerKey(r.Context()))
	if err != nil {
		return Draft{}, common.NewAppError(common.CodeInternal, "could not load the cart", http.StatusServiceUnavailable, err)
	}
	return h.Builder.FromCart(snap), nil
}

func (h *Handler) writeResult(w http.ResponseWriter, res Result, err error) {
	if err != nil {
		common.WriteError(w, AsAppError(err))
		return
	}
	status := http.StatusOK
	if res.OrderID != "" || res.State == StateCODPlaced || res.State == StateOrderPlaced || res.State == StateFallbackOrderPlaced {
		status = http.StatusCreated
	}
	common.JSON(w, status, map[string]any{"data": res})
}

func quoteView(d Draft) map[string]any {
	lines := d.Lines
	if lines == nil {
		lines = []OrderLine{}
	}
	return map[string]any{
		"items":             lines,
		"source":            d.Source,
		"subtotal":          d.Totals.Subtotal,
		"shippingFee":       d.Totals.Shipping,
		"tax":               d.Totals.Tax,
		"total":             d.Totals.Total,
		"droppedProductIds": d.Dropped,
		"linesSubtotal":     d.LinesSubtotal,
		"ledgerMismatch":    d.LedgerMismatch(),
	}
}
