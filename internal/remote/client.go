// Package remote talks to the storefront backend that owns orders,
// addresses and payment sessions. Every endpoint answers with a
// {"success": bool, "message": string, ...} envelope.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// ErrNotConfigured is returned when no base URL was supplied.
var ErrNotConfigured = errors.New("remote: base url not configured")

// Client is a small JSON client with bearer auth on top of the retrying,
// circuit-broken resilience.HTTPClient.
type Client struct {
	BaseURL string
	Token   string
	HTTP    resilience.HTTPClient
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (e envelope) ok() bool { return e.Success }

type result interface {
	ok() bool
	message() string
}

// call sends in as JSON and decodes the reply into out. An unsuccessful
// envelope becomes an AppError carrying the backend's message.
func (c Client) call(ctx context.Context, method, path, idempotencyKey string, in any, out result) error {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return ErrNotConfigured
	}
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return upstreamError(resp.StatusCode, "")
		}
		return fmt.Errorf("remote: decode %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !out.ok() {
		return upstreamError(resp.StatusCode, strings.TrimSpace(out.message()))
	}
	return nil
}

func (e envelope) message() string { return e.Message }

func upstreamError(status int, msg string) *common.AppError {
	code := common.CodeUpstream
	switch status {
	case http.StatusNotFound:
		code = common.CodeNotFound
	case http.StatusConflict:
		code = common.CodeConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		code = common.CodeUnauthorized
	}
	return common.NewAppError(code, msg, http.StatusBadGateway, fmt.Errorf("remote: status %d", status))
}
