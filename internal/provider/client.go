package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/internal/metrics"
	"github.com/nutrifit/integrations/ratelimit"
)

const defaultRequestTimeout = 15 * time.Second

// APIClient issues read calls against a provider API through the shared rate
// limiter. Every call consumes budget via Reserve before going on the wire, so
// the published limits cannot be exceeded, no matter which code path calls.
type APIClient struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewAPIClient wraps the limiter with a bounded-timeout HTTP client.
// A timeout <= 0 falls back to 15s.
func NewAPIClient(limiter *ratelimit.Limiter, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &APIClient{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// CanMakeReadRequest is the pre-flight check against the shared budget.
func (c *APIClient) CanMakeReadRequest() bool {
	return c.limiter.CanMakeReadRequest()
}

// RetryAfter returns the current backoff hint of the shared budget.
func (c *APIClient) RetryAfter() time.Duration {
	return c.limiter.RetryAfter()
}

// GetJSON performs a bearer-authenticated GET and decodes the JSON response
// into out. A denied budget returns a RATE_LIMITED error without touching the
// network; non-2xx responses return *HTTPError.
func (c *APIClient) GetJSON(ctx context.Context, url, accessToken string, out any) error {
	if err := c.limiter.Reserve(); err != nil {
		metrics.RateLimitDeniedTotal.Inc()
		log.Debug().Str("url", url).Msg("provider API call denied by rate limiter")
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("provider: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("provider: decoding response: %w", err)
		}
	}
	return nil
}

// parseRetryAfter handles the delta-seconds form of the Retry-After header.
// HTTP-date values are rare from the providers we talk to and are ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
