// Package gojek talks to the GoJek (GoBiz) merchant backend.
//
// The backend buckets by the host's local day, so every request carries the
// epoch-millisecond bounds of a local calendar day (see schedule.Window).
// Sales come from the journal search API; the other metric groups are plain
// REST reads under /v1/merchants/{merchantId}.
package gojek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/pkg/httpretry"
)

// Config holds GoJek client settings.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client is the GoJek API client
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new GoJek API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		timeout: timeout,
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

func (c *Client) doRequest(ctx context.Context, method, endpoint, token string, body interface{}) ([]byte, error) {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Authentication-Type", "go-id")

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

// merchantPath builds /v1/merchants/{id}/{suffix}?from=&to= for a window.
func merchantPath(merchantID, suffix string, req collector.Request) string {
	q := url.Values{}
	q.Set("from", req.Window.StartParam())
	q.Set("to", req.Window.EndParam())
	return "/v1/merchants/" + url.PathEscape(merchantID) + "/" + suffix + "?" + q.Encode()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
