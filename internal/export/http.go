package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ignite/delivery-stats/internal/pkg/httpretry"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
	"github.com/ignite/delivery-stats/internal/pkg/metrics"
)

// HTTPSinkConfig configures the central store's upsert endpoint.
type HTTPSinkConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// MaxRetries bounds retries of 5xx and network errors per batch.
	MaxRetries int
	// FailureThreshold consecutive failed batches open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

type upsertResponse struct {
	Success *bool  `json:"success"`
	Rows    int    `json:"rows"`
	Error   string `json:"error,omitempty"`
}

// HTTPSink posts batches to the central store. A circuit breaker stops
// hammering the endpoint while it is down; rejected batches do not count
// against it.
type HTTPSink struct {
	endpoint   string
	apiKey     string
	httpClient httpretry.HTTPDoer
	breaker    *gobreaker.CircuitBreaker[int]
}

// NewHTTPSink creates an HTTPSink.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}

	return &HTTPSink{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, httpretry.Options{
			MaxRetries:        retries,
			RetryServerErrors: true,
		}),
		breaker: gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
			Name:        "export-http",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrBatchRejected)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (s *HTTPSink) SetHTTPClient(client httpretry.HTTPDoer) {
	s.httpClient = client
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// State returns the breaker state.
func (s *HTTPSink) State() gobreaker.State { return s.breaker.State() }

// Push implements Sink.
func (s *HTTPSink) Push(ctx context.Context, b Batch) (int, error) {
	rows, err := s.breaker.Execute(func() (int, error) {
		return s.post(ctx, b)
	})
	if err != nil {
		return 0, fmt.Errorf("push %s (%d rows): %w", b.AccountID, len(b.Stats), err)
	}
	return rows, nil
}

func (s *HTTPSink) post(ctx context.Context, b Batch) (int, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("central store error (status %d): %s", resp.StatusCode, truncate(string(body), 256))
	}

	var out upsertResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("malformed central store response: %w", err)
	}
	if out.Success == nil {
		return 0, fmt.Errorf("malformed central store response: success flag absent")
	}
	if !*out.Success {
		return 0, fmt.Errorf("%w: %s", ErrBatchRejected, out.Error)
	}
	return out.Rows, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
