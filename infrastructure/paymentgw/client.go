// Package paymentgw is the HTTP client for the external payment
// provider. Charges and refunds are idempotent on the Idempotency-Key
// header, so a retried call never double-charges.
package paymentgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"food_order/application/payment"
	"food_order/pkg/apperr"
)

// Client talks to the payment provider. The caller wraps invocations in
// the resilience envelope; this client only translates HTTP outcomes
// into the error taxonomy.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type chargeBody struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method"`
}

// Charge takes the payment.
func (c *Client) Charge(ctx context.Context, req payment.ChargeRequest) error {
	return c.post(ctx, "/charges", req)
}

// Refund reverses a previous charge with the same idempotency key.
func (c *Client) Refund(ctx context.Context, req payment.ChargeRequest) error {
	return c.post(ctx, "/refunds", req)
}

func (c *Client) post(ctx context.Context, path string, req payment.ChargeRequest) error {
	body, err := json.Marshal(chargeBody{OrderID: req.OrderID, Amount: req.Amount, Method: req.Method})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.ServiceUnavailable, "payment provider unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return apperr.Newf(apperr.InvalidInput, "payment declined for order %s", req.OrderID)
	case resp.StatusCode >= 500:
		return apperr.Newf(apperr.ServiceUnavailable, "payment provider returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("payment provider returned %d", resp.StatusCode)
	}
}
