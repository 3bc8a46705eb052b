package host

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

// RetryConfig configures retry behavior for host API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryOperation retries a host API operation with exponential backoff.
// It handles rate limiting and transient errors automatically.
func retryOperation(ctx context.Context, config *RetryConfig, log *logging.Logger, operation func() (*github.Response, error)) (*github.Response, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	config.ApplyDefaults()

	var lastErr error
	var lastResp *github.Response
	backoff := config.InitialBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info(ctx, "host API operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if !isRetryableError(err, resp) {
			log.Debug(ctx, "host API error is not retryable",
				zap.Error(err),
				zap.Int("status_code", statusCode(resp)),
			)
			return resp, err
		}

		if attempt == config.MaxRetries {
			break
		}

		if isRateLimitResponse(resp) {
			backoff = rateLimitBackoff(resp, config.MaxBackoff)
			log.Info(ctx, "host API rate limit hit, adjusting backoff",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", config.MaxRetries+1),
				zap.Duration("backoff", backoff),
			)
		} else {
			log.Info(ctx, "retrying host API operation after transient error",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", config.MaxRetries+1),
				zap.Error(err),
				zap.Int("status_code", statusCode(resp)),
				zap.Duration("backoff", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			nextBackoff := time.Duration(float64(backoff) * config.BackoffMultiplier)
			if nextBackoff > config.MaxBackoff {
				nextBackoff = config.MaxBackoff
			}
			backoff = nextBackoff
		}
	}

	log.Warn(ctx, "host API operation failed after all retries exhausted",
		zap.Int("total_attempts", config.MaxRetries+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
		zap.Int("status_code", statusCode(lastResp)),
	)

	return lastResp, fmt.Errorf("host API operation failed after %d retries: %w", config.MaxRetries, lastErr)
}

// isRetryableError checks if a host API error is retryable.
func isRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}

	if resp != nil && resp.Response != nil {
		statusCode := resp.Response.StatusCode

		switch statusCode {
		// Rate limiting
		case http.StatusTooManyRequests: // 429
			return true

		// Server errors (retryable)
		case http.StatusInternalServerError, // 500
			http.StatusBadGateway,         // 502
			http.StatusServiceUnavailable, // 503
			http.StatusGatewayTimeout:     // 504
			return true

		// Client errors (not retryable)
		case http.StatusBadRequest, // 400
			http.StatusUnauthorized,       // 401
			http.StatusNotFound,           // 404
			http.StatusUnprocessableEntity: // 422
			return false

		case http.StatusForbidden: // 403
			// Forbidden can be a secondary rate limit. Rate headers
			// present (Limit > 0) means we got rate info.
			return resp.Rate.Limit > 0

		default:
			return statusCode >= 500 && statusCode < 600
		}
	}

	// No status code available: network errors, timeouts etc. are
	// typically retryable.
	return true
}

// isRateLimitResponse checks if the response indicates a rate limit.
func isRateLimitResponse(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.Response.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Response.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0
}

// rateLimitBackoff calculates the backoff duration for rate limit
// errors, respecting the host's rate limit reset time when available.
func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return time.Minute
	}

	backoff := time.Until(resp.Rate.Reset.Time)
	// Small buffer to ensure the reset has happened.
	backoff += time.Second
	if backoff < 0 {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// statusCode safely extracts the HTTP status code from a host response.
func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
