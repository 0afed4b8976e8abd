package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

var (
	// ErrVerificationFailed is returned when a gateway response does not prove
	// that the session was paid.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrInvalidSignature is a verification failure caused by a bad signature.
	ErrInvalidSignature = errors.New("payment signature mismatch")
)

// SessionRequest asks a gateway to open a payment session.
type SessionRequest struct {
	Amount      pricing.Money
	Currency    string
	ReceiptRef  string
	Description string
}

// Session is a gateway payment session handed to the shopper's client.
type Session struct {
	ID          string        `json:"id"`
	Provider    string        `json:"provider"`
	Amount      pricing.Money `json:"amount"`
	Currency    string        `json:"currency"`
	ReceiptRef  string        `json:"receiptRef"`
	Token       string        `json:"token,omitempty"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	ExpiresAt   time.Time     `json:"expiresAt,omitzero"`
}

// GatewayResponse is what the gateway's client-side flow reports after the
// shopper pays. Field meaning varies slightly per provider.
type GatewayResponse struct {
	PaymentID      string `json:"paymentId" validate:"required,max=128"`
	GatewayOrderID string `json:"gatewayOrderId" validate:"required,max=128"`
	Signature      string `json:"signature" validate:"required,max=512"`
	Status         string `json:"status,omitempty" validate:"max=64"`
	StatusCode     string `json:"statusCode,omitempty" validate:"max=8"`
	Amount         string `json:"amount,omitempty" validate:"max=32"`
}

// Gateway opens payment sessions and verifies reported payments.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	Verify(ctx context.Context, session Session, resp GatewayResponse) error
}

// Instrumented records metrics and spans around a Gateway.
type Instrumented struct {
	Gateway Gateway
}

// Name implements Gateway.
func (g Instrumented) Name() string { return g.Gateway.Name() }

// CreateSession implements Gateway.
func (g Instrumented) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.CreateSession")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", g.Name()),
		attribute.String("payment.receipt_ref", req.ReceiptRef),
	)
	session, err := g.Gateway.CreateSession(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if obs.PaymentSessionTotal != nil {
		obs.PaymentSessionTotal.WithLabelValues(g.Name(), result).Inc()
	}
	return session, err
}

// Verify implements Gateway.
func (g Instrumented) Verify(ctx context.Context, session Session, resp GatewayResponse) error {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", g.Name()),
		attribute.String("payment.session_id", session.ID),
	)
	err := g.Gateway.Verify(ctx, session, resp)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrVerificationFailed):
		result = "rejected"
	default:
		result = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if obs.PaymentVerifyTotal != nil {
		obs.PaymentVerifyTotal.WithLabelValues(g.Name(), result).Inc()
	}
	return err
}

func formatAmount(m pricing.Money) string {
	return m.StringFixed(2)
}

func normaliseStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "capture", "settlement", "paid", "settled", "success", "succeeded":
		return "PAID"
	case "deny", "cancel", "canceled", "failed":
		return "FAILED"
	case "expire", "expired":
		return "EXPIRED"
	case "refund", "refunded":
		return "REFUNDED"
	default:
		return "PENDING"
	}
}
