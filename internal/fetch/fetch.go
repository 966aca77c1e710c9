// Package fetch is the HTTP client used for feed documents and episode
// enclosures. Transport failures are retried with exponential backoff; a
// response with an error status is never retried and surfaces as *Error
// right away.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"podcatch/internal/logctx"
)

// Error represents a failed retrieval: a transport failure that survived
// the retry budget, or a response outside the 2xx range.
type Error struct {
	URL        string // The URL that failed
	StatusCode int    // HTTP status code, if a response was received (0 for transport errors)
	Err        error  // Underlying error, if any
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch failed for %s (HTTP %d)", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("fetch failed for %s", e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 64 * time.Second
	defaultMaxTries        = 6
)

// Client is a retrying GET client.
type Client struct {
	httpClient      *http.Client
	initialInterval time.Duration
	maxInterval     time.Duration
	maxTries        uint
}

type Option func(*Client)

// WithTimeout bounds each whole request, body included. Zero means no
// overall limit, which is what long enclosure downloads want.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxTries caps the attempts per request, first try included.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(c *Client) { c.initialInterval = d }
}

// WithMaxInterval caps the backoff delay between attempts.
func WithMaxInterval(d time.Duration) Option {
	return func(c *Client) { c.maxInterval = d }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		maxTries:        defaultMaxTries,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get issues a GET for url. Dial failures, resets and other transport
// errors are retried with exponential backoff until the retry budget runs
// out. Any received response counts as delivered: statuses outside the 2xx
// range are drained, closed and returned as an *Error without retrying.
// On a nil error the caller owns the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	logger := logctx.LoggerFromContext(ctx)

	operation := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval

	notify := func(err error, next time.Duration) {
		logger.Warn("retrying fetch", "url", url, "next_attempt_in", next.String(), "err", err)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		return nil, &Error{URL: url, StatusCode: resp.StatusCode}
	}

	return resp, nil
}

// GetBytes fetches url and returns the whole body. Meant for feed
// documents, which are small; enclosures stream through Get instead.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	return body, nil
}
