// Package audiohost provides an HTTP client for the recitation audio host.
package audiohost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrNotFound is returned when the host has no such resource.
var ErrNotFound = errors.New("audio resource not found")

// StatusError is a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("audio host returned %d for %s", e.StatusCode, e.URL)
}

// Config represents audio host client configuration.
type Config struct {
	Host       string        // Primary host prefix, e.g. https://everyayah.com/data
	Mirrors    []string      // Hosts tried in order when the primary fails
	UserAgent  string        // Sent with every request
	Timeout    time.Duration // Response header timeout, 0 for none. Bodies are unbounded.
	MaxRetries int           // Attempts per host
	RetryDelay time.Duration // Linear backoff base
}

// Client fetches audio resources.
type Client struct {
	host       string
	mirrors    []string
	userAgent  string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a new audio host client.
func New(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		mirrors = append(mirrors, strings.TrimRight(m, "/"))
	}
	return &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		mirrors:    mirrors,
		userAgent:  cfg.UserAgent,
		httpClient: newHTTPClient(cfg.Timeout),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// newHTTPClient bounds only the wait for response headers. A slow body is read
// to the end; callers cancel through the context.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// Fetch opens the resource at url. The caller closes the body.
// When url lives under the primary host, mirrors are tried after it fails.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	candidates := c.candidates(url)

	var lastErr error
	for i, u := range candidates {
		body, err := c.fetchWithRetry(ctx, u)
		if err == nil {
			if i > 0 {
				zlog.Debug().Msgf("audiohost: served from mirror: url=%s", u)
			}
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrNotFound) {
			break
		}
		if i < len(candidates)-1 {
			zlog.Warn().Err(err).Msgf("audiohost: trying next mirror: url=%s", u)
		}
	}
	return nil, lastErr
}

func (c *Client) candidates(url string) []string {
	result := []string{url}
	if c.host == "" || !strings.HasPrefix(url, c.host+"/") {
		return result
	}
	rest := strings.TrimPrefix(url, c.host)
	for _, m := range c.mirrors {
		result = append(result, m+rest)
	}
	return result
}

func (c *Client) fetchWithRetry(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		body, err := c.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "fetch cancelled")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return nil, errors.Wrap(lastErr, "max retries exceeded")
}

func (c *Client) fetchOnce(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.Mark(statusErr, ErrNotFound)
		}
		return nil, statusErr
	}
	return resp.Body, nil
}

// isRetryable reports whether a failed attempt is worth repeating.
// Transport errors, rate limits and server errors are; other statuses are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}
