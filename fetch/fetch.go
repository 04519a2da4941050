// Package fetch issues HTTP GET requests with bounded retry and jittered
// exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/danielmmetz/hn-reader/metrics"
)

// ErrRetriesExhausted is returned when every attempt failed with a retryable error.
// The last attempt's error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// StatusError is a retryable HTTP status returned by the remote.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// Config configures retry behavior.
type Config struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt; it doubles by Multiplier per attempt.
	InitialBackoff time.Duration
	Multiplier     float64
	// Jitter is the multiplicative spread applied to each delay: a factor is
	// drawn uniformly from [1-Jitter, 1+Jitter].
	Jitter float64
	// RetryTooManyRequests makes 429 retryable under the normal backoff.
	RetryTooManyRequests bool
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		InitialBackoff:       100 * time.Millisecond,
		Multiplier:           2.0,
		Jitter:               0.15,
		RetryTooManyRequests: true,
	}
}

type Option func(*Fetcher)

// WithConfig replaces the retry policy.
func WithConfig(cfg Config) Option {
	return func(f *Fetcher) { f.cfg = cfg }
}

// WithSleep replaces the backoff wait. It must return ctx.Err() if ctx ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithRand replaces the jitter source; it must return values in [0, 1).
func WithRand(rnd func() float64) Option {
	return func(f *Fetcher) { f.rand = rnd }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

type Fetcher struct {
	http      *http.Client
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error
	rand      func() float64
	userAgent string
}

// New returns a Fetcher using client for transport. A nil client gets a 15s timeout.
func New(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	f := &Fetcher{
		http:  client,
		cfg:   DefaultConfig(),
		sleep: sleepContext,
		rand:  rand.Float64,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cfg.MaxAttempts < 1 {
		f.cfg.MaxAttempts = 1
	}
	return f
}

// Get fetches url. It returns the response for 2xx and non-retryable 4xx
// statuses; the caller owns the body and must inspect the status. Transport
// failures and 5xx responses are retried; once attempts run out the last
// error is returned wrapped with ErrRetriesExhausted.
func (f *Fetcher) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := f.Backoff(attempt - 1)
			slog.Debug("fetch: retrying", "url", url, "attempt", attempt+1, "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
		}

		resp, err := f.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
			}
			metrics.FetchAttempts.WithLabelValues(metrics.OutcomeTransportError).Inc()
			slog.Warn("fetch: attempt failed", "url", url, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		if !f.retryable(resp.StatusCode) {
			if resp.StatusCode >= 400 {
				metrics.FetchAttempts.WithLabelValues(metrics.OutcomeClientError).Inc()
				slog.Warn("fetch: client error, not retrying", "url", url, "status", resp.StatusCode)
			} else {
				metrics.FetchAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
			}
			return resp, nil
		}

		// Drain so the connection can be reused by the next attempt.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		metrics.FetchAttempts.WithLabelValues(metrics.OutcomeServerError).Inc()
		lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}
		slog.Warn("fetch: attempt failed", "url", url, "attempt", attempt+1, "status", resp.StatusCode)
	}

	metrics.FetchRetriesExhausted.Inc()
	slog.Error("fetch: max attempts reached", "url", url, "attempts", f.cfg.MaxAttempts, "error", lastErr)
	return nil, fmt.Errorf("fetch %s: %w after %d attempts: %w", url, ErrRetriesExhausted, f.cfg.MaxAttempts, lastErr)
}

// Backoff returns the jittered delay that follows the given zero-based failed attempt.
func (f *Fetcher) Backoff(attempt int) time.Duration {
	base := float64(f.cfg.InitialBackoff) * math.Pow(f.cfg.Multiplier, float64(attempt))
	factor := 1 - f.cfg.Jitter + 2*f.cfg.Jitter*f.rand()
	return time.Duration(base * factor)
}

func (f *Fetcher) retryable(status int) bool {
	switch {
	case status >= 200 && status < 300:
		return false
	case status == http.StatusTooManyRequests:
		return f.cfg.RetryTooManyRequests
	case status >= 400 && status < 500:
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
