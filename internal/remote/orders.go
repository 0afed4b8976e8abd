package remote

import (
	"context"
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/checkout"
)

// Orders creates orders through the backend's order endpoint.
type Orders struct {
	Client Client
}

type createOrderResponse struct {
	envelope
	OrderID string `json:"orderId"`
}

// CreateOrder implements checkout.OrderCreator. The receipt ref travels as
// an Idempotency-Key so a retried request cannot create a second order.
func (o Orders) CreateOrder(ctx context.Context, payload checkout.OrderPayload) (checkout.OrderResult, error) {
	var out createOrderResponse
	if err := o.Client.call(ctx, http.MethodPost, "/orders", payload.ReceiptRef, payload, &out); err != nil {
		return checkout.OrderResult{}, err
	}
	return checkout.OrderResult{OrderID: out.OrderID, Message: out.Message}, nil
}
