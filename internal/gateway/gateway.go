// Package gateway talks to the external payment gateway and verifies the
// signatures it hands back.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HeaderIdempotencyKey lets the gateway collapse retried refund calls.
const HeaderIdempotencyKey = "Idempotency-Key"

// Client is the subset of the gateway API the storefront uses. Amounts are
// always integer minor units.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	// Refund returns money for a captured payment. Calls sharing an
	// idempotencyKey refund at most once.
	Refund(ctx context.Context, paymentID string, amountMinor int64, idempotencyKey string) (*Refund, error)
}

type CreateOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Order is the gateway-side order a customer pays against.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// HTTPClient calls a Razorpay-compatible REST API with basic auth.
type HTTPClient struct {
	HTTPClient *http.Client
	BaseURL    string
	KeyID      string
	KeySecret  string
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(baseURL, keyID, keySecret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		KeyID:      keyID,
		KeySecret:  keySecret,
	}
}

func (c *HTTPClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var out Order
	if err := c.post(ctx, "/v1/orders", "", req, &out); err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("gateway returned an order without id")
	}
	return &out, nil
}

func (c *HTTPClient) Refund(ctx context.Context, paymentID string, amountMinor int64, idempotencyKey string) (*Refund, error) {
	var out Refund
	body := map[string]any{"amount": amountMinor, "receipt": idempotencyKey}
	if err := c.post(ctx, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", idempotencyKey, body, &out); err != nil {
		return nil, fmt.Errorf("failed to refund payment %s: %w", paymentID, err)
	}
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal gateway response: %w", err)
	}
	return nil
}
