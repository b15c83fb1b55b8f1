package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/flowdata/salesreport/internal/config"
	apperrors "github.com/flowdata/salesreport/internal/errors"
	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
	"golang.org/x/time/rate"
)

// lookupResponse is the shape of the external location service's answer.
type lookupResponse struct {
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

// Client calls the external IP-location service with connection reuse, a
// client-side rate limit, and retry with exponential backoff for transient
// failures. Non-transient failures and retry exhaustion come back as a
// ResolutionFailure value; callers treat unresolved addresses as a normal
// outcome.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	policy     RetryPolicy
	log        *logger.Logger
}

// NewClient creates a resolver Client from configuration. The policy is
// passed explicitly rather than derived inside so tests can inject a fake
// clock.
func NewClient(cfg config.ResolverConfig, policy RetryPolicy, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		policy:     policy,
		log:        log,
	}
}

// Resolve looks up the location for one IP address. It issues at most
// MaxAttempts requests, waiting on the rate limiter before each one.
// A server-provided Retry-After hint on a rate-limit response overrides
// the backoff schedule for that retry. Context cancellation propagates as
// the context's error, not a ResolutionFailure.
func (c *Client) Resolve(ctx context.Context, ip string) (*models.Location, error) {
	if _, err := netip.ParseAddr(ip); err != nil {
		c.log.Warn("Refusing to resolve malformed IP", map[string]interface{}{
			"ip": ip,
		})
		return nil, apperrors.NewResolutionFailure(ip, apperrors.ReasonInvalidIP, err)
	}

	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		location, retryAfter, err := c.attempt(ctx, ip)
		if err == nil {
			if attempt > 1 {
				c.log.Info("Resolution succeeded after retry", map[string]interface{}{
					"ip":      ip,
					"attempt": attempt,
				})
			}
			return location, nil
		}

		// Permanent failures are never retried
		if failure := apperrors.AsResolutionFailure(err); failure != nil {
			return nil, failure
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.policy.Delay(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}

		c.log.Warn("Transient resolution failure, retrying", map[string]interface{}{
			"ip":       ip,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})

		if err := c.policy.wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.log.Warn("Resolution retries exhausted", map[string]interface{}{
		"ip":       ip,
		"attempts": c.policy.MaxAttempts,
	})
	return nil, apperrors.NewResolutionFailure(ip, apperrors.ReasonExhausted, lastErr)
}

// attempt issues a single lookup request. It returns a plain error for
// transient conditions (retryable), a ResolutionFailure for permanent
// ones, and a Retry-After hint when the service sent one.
func (c *Client) attempt(ctx context.Context, ip string) (*models.Location, time.Duration, error) {
	endpoint := fmt.Sprintf("%s/?ip=%s", c.baseURL, url.QueryEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, apperrors.NewResolutionFailure(ip, apperrors.ReasonClientError, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection resets are transient
		return nil, 0, fmt.Errorf("resolver request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body lookupResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, 0, apperrors.NewResolutionFailure(ip, apperrors.ReasonBadResponse, err)
		}
		return &models.Location{
			IPAddress:  ip,
			City:       optional(body.City),
			State:      optional(body.State),
			ZipCode:    optional(body.ZipCode),
			ResolvedAt: time.Now().UTC(),
		}, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("resolver rate limited (status %d)", resp.StatusCode)

	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("resolver server error (status %d)", resp.StatusCode)

	default:
		return nil, 0, apperrors.NewResolutionFailure(ip, apperrors.ReasonClientError,
			fmt.Errorf("resolver rejected request (status %d)", resp.StatusCode))
	}
}

// parseRetryAfter reads a Retry-After header given in seconds.
// Returns 0 when absent or unparseable, falling back to the backoff schedule.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// optional maps an empty string to a NULL field. Partial lookup results
// are still successes; missing subfields propagate as NULL.
func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
