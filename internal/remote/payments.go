package remote

import (
	"context"
	"errors"
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Payments delegates session creation and verification to the backend,
// which holds the gateway credentials.
type Payments struct {
	Client Client
}

type sessionRequest struct {
	Amount      pricing.Money `json:"amount"`
	Currency    string        `json:"currency"`
	ReceiptRef  string        `json:"receiptRef"`
	Description string        `json:"description,omitempty"`
}

type sessionResponse struct {
	envelope
	Session *struct {
		ID          string        `json:"id"`
		Amount      pricing.Money `json:"amount"`
		Currency    string        `json:"currency"`
		Token       string        `json:"token"`
		RedirectURL string        `json:"redirectUrl"`
	} `json:"session"`
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
	payment.GatewayResponse
}

// Name implements payment.Gateway.
func (Payments) Name() string { return "http" }

// CreateSession implements payment.Gateway.
func (p Payments) CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error) {
	var out sessionResponse
	in := sessionRequest{Amount: req.Amount, Currency: req.Currency, ReceiptRef: req.ReceiptRef, Description: req.Description}
	if err := p.Client.call(ctx, http.MethodPost, "/payments/sessions", req.ReceiptRef, in, &out); err != nil {
		return payment.Session{}, err
	}
	if out.Session == nil || out.Session.ID == "" {
		return payment.Session{}, errors.New("remote: session missing from response")
	}
	currency := out.Session.Currency
	if currency == "" {
		currency = req.Currency
	}
	return payment.Session{
		ID:          out.Session.ID,
		Provider:    p.Name(),
		Amount:      out.Session.Amount,
		Currency:    currency,
		ReceiptRef:  req.ReceiptRef,
		Token:       out.Session.Token,
		RedirectURL: out.Session.RedirectURL,
	}, nil
}

// Verify implements payment.Gateway. An unsuccessful answer wraps
// payment.ErrVerificationFailed.
func (p Payments) Verify(ctx context.Context, session payment.Session, resp payment.GatewayResponse) error {
	var out envelope
	err := p.Client.call(ctx, http.MethodPost, "/payments/verify", "", verifyRequest{SessionID: session.ID, GatewayResponse: resp}, &out)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConfigured) {
		return err
	}
	return errors.Join(payment.ErrVerificationFailed, err)
}
