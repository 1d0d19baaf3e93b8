package cdn

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Purger invalidates one published path on the CDN edge.
type Purger interface {
	Purge(ctx context.Context, domain, path string) error
}

const purgeAttempts = 5

// Client issues PURGE requests against the CDN. Proxy, when set, is the purge
// proxy host the request is routed through; the purged domain still travels in
// the Host header. A shared rate limiter paces purges across the upload and
// delete fan-outs.
type Client struct {
	HTTPClient *http.Client  // optional
	Proxy      string        // optional
	Limiter    *rate.Limiter // optional
}

func NewClient(proxy string, purgesPerSecond float64) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Proxy:      proxy,
		Limiter:    rate.NewLimiter(rate.Limit(purgesPerSecond), 1),
	}
}

// Purge invalidates path on domain. Paths ending in /index.html are
// normalized to their directory form, which is how the CDN serves them.
// Transient failures are retried with exponential backoff and jitter.
func (c *Client) Purge(ctx context.Context, domain, path string) error {
	path = NormalizePath(path)

	host := c.Proxy
	if host == "" {
		host = domain
	}

	var lastErr error
	for attempt := 0; attempt < purgeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffWaitDuration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, "PURGE", "http://"+host+path, nil)
		if err != nil {
			return fmt.Errorf("cdn.Client: %w", err)
		}
		req.Host = domain

		httpClient := c.HTTPClient
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return nil
	}

	return fmt.Errorf("cdn.Client: purge %s%s: %w", domain, path, lastErr)
}

// NormalizePath maps an object key to the edge-cached URL path. Keys ending
// in index.html are served at their directory path.
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasSuffix(path, "/index.html") {
		path = strings.TrimSuffix(path, "index.html")
	}
	return path
}

// backoffWaitDuration grows 2^attempt seconds with up to one extra second of
// jitter.
func backoffWaitDuration(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * time.Second
	return d + time.Duration(rand.IntN(1000))*time.Millisecond
}
