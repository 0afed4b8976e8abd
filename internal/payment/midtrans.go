package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Midtrans opens Snap transactions and checks the signature_key Midtrans
// attaches to transaction results.
type Midtrans struct {
	ServerKey string
	BaseURL   string
	Sandbox   bool
	HTTP      resilience.HTTPClient
	Now       func() time.Time
}

// Name implements Gateway.
func (Midtrans) Name() string { return "midtrans" }

func (m Midtrans) snapHost() string {
	if host := strings.TrimRight(strings.TrimSpace(m.BaseURL), "/"); host != "" {
		return host
	}
	if m.Sandbox {
		return "https://app.sandbox.midtrans.com"
	}
	return "https://app.midtrans.com"
}

// CreateSession creates a Snap transaction whose order_id is the receipt ref.
func (m Midtrans) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(req.ReceiptRef) == "" {
		return Session{}, errors.New("midtrans: receipt ref is required")
	}
	if !req.Amount.IsPositive() {
		return Session{}, errors.New("midtrans: amount must be positive")
	}
	body, err := json.Marshal(map[string]any{
		"transaction_details": map[string]string{
			"order_id":     req.ReceiptRef,
			"gross_amount": formatAmount(req.Amount),
		},
		"custom_field1": req.Description,
	})
	if err != nil {
		return Session{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.snapHost()+"/snap/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	httpReq.SetBasicAuth(m.ServerKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := m.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("midtrans: create transaction: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token         string   `json:"token"`
		RedirectURL   string   `json:"redirect_url"`
		ErrorMessages []string `json:"error_messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, fmt.Errorf("midtrans: decode response: %w", err)
	}
	if (resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK) || out.Token == "" {
		return Session{}, fmt.Errorf("midtrans: create transaction: %s %s", resp.Status, strings.Join(out.ErrorMessages, "; "))
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return Session{
		ID:          req.ReceiptRef,
		Provider:    m.Name(),
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReceiptRef:  req.ReceiptRef,
		Token:       out.Token,
		RedirectURL: out.RedirectURL,
		ExpiresAt:   now().Add(24 * time.Hour),
	}, nil
}

// Verify checks signature_key = SHA512(order_id + status_code + gross_amount +
// server_key), that the transaction settled and that the amount matches.
func (m Midtrans) Verify(_ context.Context, session Session, resp GatewayResponse) error {
	if resp.GatewayOrderID != session.ID {
		return fmt.Errorf("%w: order id %q does not match session", ErrVerificationFailed, resp.GatewayOrderID)
	}
	expected := m.signature(resp.GatewayOrderID, resp.StatusCode, resp.Amount)
	provided := strings.ToLower(strings.TrimSpace(resp.Signature))
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, ErrInvalidSignature)
	}
	if resp.StatusCode != "200" || normaliseStatus(resp.Status) != "PAID" {
		return fmt.Errorf("%w: transaction status %s/%s", ErrVerificationFailed, resp.StatusCode, resp.Status)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(resp.Amount))
	if err != nil || !amount.Equal(session.Amount) {
		return fmt.Errorf("%w: gross amount %q does not match %s", ErrVerificationFailed, resp.Amount, formatAmount(session.Amount))
	}
	return nil
}

func (m Midtrans) signature(orderID, statusCode, grossAmount string) string {
	key := strings.TrimSpace(m.ServerKey)
	if key == "" {
		return ""
	}
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + key))
	return hex.EncodeToString(sum[:])
}
