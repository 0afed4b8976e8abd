package order

import (
	"time"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Order is a persisted order record.
type Order struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId"`
	ReceiptRef      string                 `json:"receiptRef"`
	PaymentMethod   checkout.PaymentMethod `json:"paymentMethod"`
	PaymentStatus   checkout.PaymentStatus `json:"paymentStatus"`
	CurrentStatus   checkout.OrderStatus   `json:"currentStatus"`
	Subtotal        pricing.Money          `json:"subtotal"`
	ShippingFee     pricing.Money          `json:"shippingFee"`
	Tax             pricing.Money          `json:"tax"`
	Total           pricing.Money          `json:"total"`
	Currency        string                 `json:"currency"`
	Notes           string                 `json:"notes,omitempty"`
	ShippingAddress checkout.Address       `json:"shippingAddress"`
	BillingAddress  checkout.Address       `json:"billingAddress"`
	PaymentID       *string                `json:"paymentId,omitempty"`
	GatewayOrderID  *string                `json:"gatewayOrderId,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	Items           []checkout.OrderLine   `json:"items,omitempty"`
}
