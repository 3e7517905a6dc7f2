package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. Default: 3.
	MaxRetries int
	// InitialBackoff is the first wait between attempts. Default: 1s.
	InitialBackoff time.Duration
	// MaxBackoff caps every wait, including rate limit resets. Default: 30s.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each attempt. Default: 2.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration for GitHub API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c *RetryConfig) applyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// retryGitHubOperation retries op with exponential backoff. Rate limit responses wait
// until the advertised reset, capped at MaxBackoff.
func retryGitHubOperation(ctx context.Context, cfg RetryConfig, log *slog.Logger, op func() (*github.Response, error)) (*github.Response, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	backoff := cfg.InitialBackoff
	start := time.Now()
	var lastResp *github.Response
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			if attempt > 0 {
				log.Debug("github request recovered", "attempts", attempt+1, "elapsed", time.Since(start))
			}
			return resp, nil
		}
		lastResp, lastErr = resp, err
		if !isGitHubRetryableError(err, resp) {
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if d, ok := rateLimitBackoff(err, resp, cfg.MaxBackoff); ok {
			wait = d
		}
		log.Info("retrying github request", "attempt", attempt+1, "max_attempts", cfg.MaxRetries+1, "status_code", statusCode(resp), "backoff", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	log.Warn("github request failed after retries", "attempts", cfg.MaxRetries+1, "elapsed", time.Since(start), "status_code", statusCode(lastResp), "error", lastErr)
	return lastResp, lastErr
}

func isGitHubRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return true
	}
	switch code := statusCode(resp); {
	case code == 0:
		// Transport failure with no response.
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	case code == http.StatusForbidden:
		return isRateLimited(resp)
	default:
		return false
	}
}

func isRateLimited(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
}

func rateLimitBackoff(err error, resp *github.Response, max time.Duration) (time.Duration, bool) {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		return capDuration(*abuse.RetryAfter, max), true
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) && !rle.Rate.Reset.IsZero() {
		return capDuration(time.Until(rle.Rate.Reset.Time), max), true
	}
	if isRateLimited(resp) && !resp.Rate.Reset.IsZero() {
		return capDuration(time.Until(resp.Rate.Reset.Time), max), true
	}
	return 0, false
}

func capDuration(d time.Duration, max time.Duration) time.Duration {
	if d < time.Second {
		d = time.Second
	}
	if d > max {
		d = max
	}
	return d
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
