// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff with jitter, and optional request pacing for calls to
// the delivery-platform analytics backends and the central store.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/delivery-stats/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a RetryClient. Zero values take defaults.
type Options struct {
	// MaxRetries is the number of retry attempts after the initial request (default 3).
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
	// RetryServerErrors also retries 500/502/503/504. Platform clients leave
	// this off so the collector's classifier sees server errors directly.
	RetryServerErrors bool
}

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client            HTTPDoer
	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
	limiter           *rate.Limiter
	retryServerErrors bool
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
func NewRetryClient(client HTTPDoer, opts Options) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 1 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	rc := &RetryClient{
		client:            client,
		maxRetries:        opts.MaxRetries,
		baseDelay:         opts.BaseDelay,
		maxDelay:          opts.MaxDelay,
		retryServerErrors: opts.RetryServerErrors,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		rc.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return rc
}

// Do executes the HTTP request with retry logic.
// It retries on 429, on transient network/timeout errors and, when enabled,
// on 5xx. It does NOT retry on client errors (400, 401, 403, 404) or context
// cancellation. On the final attempt, it returns the response as-is so the
// caller can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.calculateDelay(attempt)
			logger.Debug("httpretry: retrying request",
				"attempt", attempt, "max", rc.maxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		if rc.limiter != nil {
			if err := rc.limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !rc.isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// calculateDelay returns the backoff duration for the given retry attempt.
// Uses exponential backoff with full jitter: random(0, min(maxDelay, baseDelay * 2^(attempt-1))).
func (rc *RetryClient) calculateDelay(attempt int) time.Duration {
	expDelay := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.maxDelay) {
		expDelay = float64(rc.maxDelay)
	}

	jittered := time.Duration(rand.Float64() * expDelay)

	// Minimum delay avoids busy-looping
	if jittered < 10*time.Millisecond {
		jittered = 10 * time.Millisecond
	}

	return jittered
}

func (rc *RetryClient) isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return rc.retryServerErrors
	default:
		return false
	}
}
