package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ticker-provisioner/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 4 * time.Second
	DefaultBackoffMult = 2.0
	maxBodyBytes       = 4 << 20
)

// Budget returns how long one lookup may take with the given per-attempt
// timeout and retry count, backoff waits included.
func Budget(timeout time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	total := timeout * time.Duration(retries+1)
	delay := DefaultRetryDelay
	for i := 0; i < retries; i++ {
		total += delay
		delay = min(time.Duration(float64(delay)*DefaultBackoffMult), DefaultMaxDelay)
	}
	return total
}

// Fixed identifying headers sent to every provider.
var defaultHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0",
	"Accept":     "application/json",
}

// errNotFound marks a 404 from the provider.
var errNotFound = errors.New("provider returned 404")

// ClientOption configures the shared provider HTTP client.
type ClientOption func(*httpClient)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *httpClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *httpClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *httpClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *httpClient) {
		c.client = client
	}
}

// WithRateLimit caps outbound requests to r per second with the given burst.
func WithRateLimit(r float64, burst int) ClientOption {
	return func(c *httpClient) {
		if r <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

type httpClient struct {
	provider    string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

func newHTTPClient(provider string, opts ...ClientOption) *httpClient {
	c := &httpClient{
		provider:    provider,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Inf, 0),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getJSON performs a GET with retries and exponential backoff and decodes the body into out.
// A 404 is returned as errNotFound after decoding, since some providers explain it in the body.
func (c *httpClient) getJSON(ctx context.Context, url string, out any) error {
	start := time.Now()
	err := c.do(ctx, url, out)

	result := "ok"
	switch {
	case errors.Is(err, errNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	observability.RecordValidatorCall(c.provider, result, time.Since(start).Seconds())
	return err
}

func (c *httpClient) do(ctx context.Context, url string, out any) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for k, v := range defaultHeaders {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusNotFound:
			// Best effort: callers may inspect the provider's error payload.
			_ = json.Unmarshal(body, out)
			return errNotFound
		case resp.StatusCode != http.StatusOK:
			// Other 4xx are not retried
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
