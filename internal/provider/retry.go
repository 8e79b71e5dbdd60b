package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"shellmate/internal/domain"
)

const (
	maxRetries   = 3
	maxErrorBody = 2048
)

// retryBaseDelay is the backoff unit; attempt n waits n*n units plus jitter.
var retryBaseDelay = time.Second

// doWithRetry executes an HTTP request with exponential backoff for
// transient failures (network errors, 5xx, 429). Exhausted retries are
// returned as *domain.NetworkError or *domain.HTTPError. Any other non-2xx
// status is returned as *domain.HTTPError without retrying.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryBaseDelay
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &domain.NetworkError{Err: err}
			logger.Warn("request failed", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		httpErr := &domain.HTTPError{Status: resp.StatusCode, Body: string(body)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = httpErr
			logger.Warn("server error", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}
		return nil, httpErr
	}

	return nil, lastErr
}
