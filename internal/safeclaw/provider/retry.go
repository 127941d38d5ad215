package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

const (
	maxRateLimitRetries = 3
	rateLimitBaseDelay  = 2 * time.Second
	rateLimitMaxDelay   = 90 * time.Second
)

// bodyRetryHint matches phrases like "Please retry in 7 s" or "retry in 2.5s"
// that some vendors put in the 429 body instead of a Retry-After header.
var bodyRetryHint = regexp.MustCompile(`(?i)retry in (\d+(?:\.\d+)?) ?s`)

// sendWithRetry performs an HTTP exchange, retrying on 429 up to
// maxRateLimitRetries times. The delay comes from the Retry-After header
// when present, then from a body hint, then from exponential backoff
// (2ⁿ·2s, capped). The final attempt's response is returned unchanged so the
// caller can surface the vendor's own words.
//
// build must return a fresh request each call: bodies are single-use.
func sendWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := build()
		if err != nil {
			return 0, nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, fmt.Errorf("http request: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt >= maxRateLimitRetries {
			return resp.StatusCode, body, nil
		}

		delay := retryDelay(attempt, resp.Header.Get("Retry-After"), body)
		slog.Warn("provider rate limited", "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryDelay picks the wait before the next attempt after a 429.
func retryDelay(attempt int, retryAfter string, body []byte) time.Duration {
	if d, ok := parseRetryAfter(retryAfter); ok {
		return capDelay(d)
	}
	if m := bodyRetryHint.FindSubmatch(body); m != nil {
		if secs, err := strconv.ParseFloat(string(m[1]), 64); err == nil && secs > 0 {
			return capDelay(time.Duration(secs * float64(time.Second)))
		}
	}
	return capDelay(rateLimitBaseDelay << attempt)
}

// parseRetryAfter handles both forms the header allows: delta seconds and an
// absolute HTTP date.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func capDelay(d time.Duration) time.Duration {
	if d > rateLimitMaxDelay {
		return rateLimitMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
