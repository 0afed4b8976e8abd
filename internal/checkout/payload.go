package checkout

import (
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// PaymentMethod is how the shopper pays.
type PaymentMethod string

const (
	MethodCOD     PaymentMethod = "COD"
	MethodGateway PaymentMethod = "ONLINE"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	return m == MethodCOD || m == MethodGateway
}

// PaymentStatus is the payment state recorded on the order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
)

// OrderStatus is the fulfilment-facing status recorded on the order.
type OrderStatus string

const (
	StatusOrderPlaced     OrderStatus = "Order Placed"
	StatusPaymentReceived OrderStatus = "Payment Received"
	StatusPaymentPending  OrderStatus = "Payment Pending"
)

// OrderPayload is submitted to the order-creation collaborator. ReceiptRef is
// unique per checkout attempt and lets the collaborator deduplicate retries.
type OrderPayload struct {
	UserID          string        `json:"userId"`
	ReceiptRef      string        `json:"receiptRef"`
	Items           []OrderLine   `json:"items"`
	ShippingAddress Address       `json:"shippingAddress"`
	BillingAddress  Address       `json:"billingAddress"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	Subtotal        pricing.Money `json:"subtotal"`
	ShippingFee     pricing.Money `json:"shippingFee"`
	Tax             pricing.Money `json:"tax"`
	Total           pricing.Money `json:"total"`
	Currency        string        `json:"currency"`
	Notes           string        `json:"notes"`
	CurrentStatus   OrderStatus   `json:"currentStatus"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	PaymentID       string        `json:"paymentId,omitempty"`
	GatewayOrderID  string        `json:"gatewayOrderId,omitempty"`
}

// OrderResult is the order-creation collaborator's answer.
type OrderResult struct {
	OrderID string `json:"orderId"`
	Message string `json:"message,omitempty"`
}

func newPayload(sub Submission, shipping, billing Address, receiptRef, currency string) OrderPayload {
	return OrderPayload{
		UserID:          sub.UserID,
		ReceiptRef:      receiptRef,
		Items:           append([]OrderLine(nil), sub.Draft.Lines...),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentMethod:   sub.Method,
		Subtotal:        sub.Draft.Totals.Subtotal,
		ShippingFee:     sub.Draft.Totals.Shipping,
		Tax:             sub.Draft.Totals.Tax,
		Total:           sub.Draft.Totals.Total,
		Currency:        currency,
		Notes:           sub.Notes,
		CurrentStatus:   StatusOrderPlaced,
		PaymentStatus:   PaymentPending,
	}
}
