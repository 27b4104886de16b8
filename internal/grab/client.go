// Package grab talks to the Grab merchant analytics backend.
//
// The backend is zone-naive: every query carries ISO-8601 bounds pinned to
// +08:00 (see schedule.Window). Every analytics call is a POST to one query
// endpoint, distinguished by a queryId and merchant headers.
package grab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/pkg/httpretry"
)

// Config holds Grab client settings.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client is the Grab API client
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new Grab API client. Server errors are not retried
// here; the collector's day loop owns that decision.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, httpretry.Options{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             1,
		}),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs a JSON request and returns the body of a 2xx response.
// Non-2xx responses come back as *collector.StatusError.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, headers map[string]string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &collector.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
