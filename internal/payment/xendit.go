package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Xendit opens invoices and verifies payments by signature and by reading
// the invoice back from the API.
type Xendit struct {
	SecretKey string
	BaseURL   string
	HTTP      resilience.HTTPClient
}

// Name implements Gateway.
func (Xendit) Name() string { return "xendit" }

func (x Xendit) host() string {
	if host := strings.TrimRight(strings.TrimSpace(x.BaseURL), "/"); host != "" {
		return host
	}
	return "https://api.xendit.co"
}

type xenditInvoice struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	InvoiceURL string          `json:"invoice_url"`
	ExpiryDate time.Time       `json:"expiry_date"`
	Message    string          `json:"message"`
}

// CreateSession opens an invoice whose external_id is the receipt ref.
func (x Xendit) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(req.ReceiptRef) == "" {
		return Session{}, errors.New("xendit: receipt ref is required")
	}
	body, err := json.Marshal(map[string]any{
		"external_id": req.ReceiptRef,
		"amount":      json.Number(req.Amount.String()),
		"currency":    req.Currency,
		"description": req.Description,
	})
	if err != nil {
		return Session{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.host()+"/v2/invoices", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	httpReq.SetBasicAuth(x.SecretKey, "")
	httpReq.Header.Set("Content-Type", "application/json")

	inv, err := x.do(ctx, httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("xendit: create invoice: %w", err)
	}
	return Session{
		ID:          inv.ID,
		Provider:    x.Name(),
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReceiptRef:  req.ReceiptRef,
		RedirectURL: inv.InvoiceURL,
		ExpiresAt:   inv.ExpiryDate,
	}, nil
}

// Verify checks the HMAC-SHA256 signature over
// "gatewayOrderId|paymentId|status|amount" and confirms the invoice is paid
// for the session amount.
func (x Xendit) Verify(ctx context.Context, session Session, resp GatewayResponse) error {
	if resp.GatewayOrderID != session.ID {
		return fmt.Errorf("%w: invoice %q does not match session", ErrVerificationFailed, resp.GatewayOrderID)
	}
	expected := x.signature(resp)
	provided := strings.ToLower(strings.TrimSpace(resp.Signature))
	if expected == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, ErrInvalidSignature)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, x.host()+"/v2/invoices/"+url.PathEscape(session.ID), nil)
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(x.SecretKey, "")
	inv, err := x.do(ctx, httpReq)
	if err != nil {
		return fmt.Errorf("xendit: fetch invoice: %w", err)
	}
	if normaliseStatus(inv.Status) != "PAID" {
		return fmt.Errorf("%w: invoice status %s", ErrVerificationFailed, inv.Status)
	}
	if !inv.Amount.Equal(session.Amount) {
		return fmt.Errorf("%w: invoice amount %s does not match %s", ErrVerificationFailed, inv.Amount, session.Amount)
	}
	return nil
}

func (x Xendit) do(ctx context.Context, req *http.Request) (xenditInvoice, error) {
	resp, err := x.HTTP.Do(ctx, req)
	if err != nil {
		return xenditInvoice{}, err
	}
	defer resp.Body.Close()
	var inv xenditInvoice
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return xenditInvoice{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return xenditInvoice{}, fmt.Errorf("%s: %s", resp.Status, inv.Message)
	}
	return inv, nil
}

func (x Xendit) signature(resp GatewayResponse) string {
	key := strings.TrimSpace(x.SecretKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strings.Join([]string{resp.GatewayOrderID, resp.PaymentID, resp.Status, resp.Amount}, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
