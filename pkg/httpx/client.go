// Package httpx is the shared retrying HTTP client used by the scraper
// fetcher, the LLM client, and the geocoder client. It centralizes the
// retry ladder, error classification, and context-aware cancellation so
// each caller only has to build a request and read a response.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
)

// Config controls retry and timeout behavior.
type Config struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// MaxBackoff caps the exponential backoff interval between attempts.
	MaxBackoff time.Duration
	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
}

// DefaultConfig mirrors the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		MaxBackoff:     60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client wraps *http.Client with the retry ladder shared across every
// outbound integration (source portals, the LLM provider, the geocoder).
type Client struct {
	http   *http.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client. logger may be nil, in which case a no-op logger is
// used.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
		logger: logger.Named("httpx"),
	}
}

// Do executes req, retrying transient failures with exponential backoff and
// jitter. body, if non-nil, is buffered so it can be replayed on retry;
// every caller in this domain sends small JSON payloads, so buffering the
// whole body up front is simpler than a seekable-body abstraction.
func (c *Client) Do(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.MaxElapsedTime = 0 // bounded by MaxRetries, not wall clock

	var resp *http.Response
	attempt := 0

	operation := func() error {
		attempt++
		r := req.Clone(ctx)
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}

		rsp, err := c.http.Do(r)
		if err != nil {
			return blerrors.Wrap(blerrors.KindTransientRemote, "httpx.Do", "request to %s failed: %w", req.URL.Host, err)
		}

		if rsp.StatusCode >= 500 || rsp.StatusCode == http.StatusTooManyRequests {
			_ = rsp.Body.Close()
			return blerrors.Wrap(blerrors.KindTransientRemote, "httpx.Do", "%s returned status %d", req.URL.Host, rsp.StatusCode)
		}
		if rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden {
			_ = rsp.Body.Close()
			return backoff.Permanent(blerrors.Wrap(blerrors.KindAuthConfig, "httpx.Do", "%s returned status %d", req.URL.Host, rsp.StatusCode))
		}
		if rsp.StatusCode >= 400 {
			_ = rsp.Body.Close()
			return backoff.Permanent(blerrors.Wrap(blerrors.KindPermanentRemote, "httpx.Do", "%s returned status %d", req.URL.Host, rsp.StatusCode))
		}

		resp = rsp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying request",
			zap.String("host", req.URL.Host),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	bounded := backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries))
	if err := backoff.RetryNotify(operation, backoff.WithContext(bounded, ctx), notify); err != nil {
		return nil, fmt.Errorf("after %d attempt(s): %w", attempt, err)
	}
	return resp, nil
}

// Get is a convenience wrapper around Do for GET requests.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindValidation, "httpx.Get", "build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req, nil)
}

// PostJSON is a convenience wrapper around Do for JSON POST requests.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindValidation, "httpx.PostJSON", "build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req, body)
}

// ReadAndClose drains and closes resp.Body, returning its bytes. Callers
// should always use this rather than io.ReadAll + Close to guarantee the
// connection is returned to the pool even on read error.
func ReadAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindTransientRemote, "httpx.ReadAndClose", "read body: %w", err)
	}
	return b, nil
}
