package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DeliveryError describes one failed webhook post. StatusCode is zero
// when the request never produced a response.
type DeliveryError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface. The endpoint URL is deliberately
// absent: delivery errors end up in logs.
func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook delivery failed: %v", e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. Server
// failures and transport errors are retryable; a 4xx means the payload
// or endpoint is wrong and will stay wrong.
func (e *DeliveryError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Client posts JSON payloads to a webhook endpoint.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a webhook client. The timeout is a hard ceiling per
// request; the dispatcher applies its own per-attempt deadline on top.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Post sends one payload and classifies the outcome. A 2xx response is
// success; everything else comes back as a *DeliveryError.
func (c *Client) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	return nil
}
