// Package integration handles external service interactions
package integration

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/metrics"
	"golang.org/x/time/rate"
)

const userAgent = "reservoir-wrangler/1.0 (+reservoir level archive)"

// Getter performs one GET. Non-200 responses are reported through the
// status code; err is only set when no response was received.
type Getter interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// FetcherOptions configures a Fetcher. Zero values mean: default client,
// no courtesy delay, no rate limit, no timeout beyond the transport's.
type FetcherOptions struct {
	Client    *http.Client
	MaxDelay  time.Duration // courtesy delay is uniform in [0, MaxDelay)
	RateLimit float64       // requests per second across all callers
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

// Fetcher is the Getter used against the monitoring site. It waits a random
// courtesy delay before every request and never retries.
type Fetcher struct {
	client   *http.Client
	maxDelay time.Duration
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

// NewFetcher creates a Fetcher. Without an explicit client it uses one whose
// transport skips TLS certificate verification, since the site's chain is
// broken.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // site certificate chain is broken
		client = &http.Client{Transport: transport, Timeout: opts.Timeout}
	}

	f := &Fetcher{
		client:   client,
		maxDelay: opts.MaxDelay,
		metrics:  opts.Metrics,
	}
	if opts.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return f
}

// Get waits the courtesy delay and the rate limiter, then issues the request.
func (f *Fetcher) Get(ctx context.Context, url string) (int, []byte, error) {
	if err := f.wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := f.client.Do(req)
	if err != nil {
		f.metrics.Fetched(0)
		return 0, nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		f.metrics.Fetched(0)
		return 0, nil, fmt.Errorf("failed to read %s: %w", url, err)
	}

	f.metrics.Fetched(res.StatusCode)
	slog.Info("Received response", "url", url, "status", res.StatusCode, "bytes", len(body))
	return res.StatusCode, body, nil
}

// CloseIdleConnections releases pooled connections once a run is over.
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.maxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(f.maxDelay)))
		slog.Debug("Waiting before request", "delay", delay.Round(time.Millisecond))
		f.metrics.Delayed(delay.Seconds())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if f.limiter != nil {
		return f.limiter.Wait(ctx)
	}
	return nil
}
