package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/complyflow/ledgersync/config"
	"github.com/complyflow/ledgersync/models"
)

const (
	slotPollInitial = 100 * time.Millisecond
	slotPollMax     = time.Second
)

// ConnectionSource yields a connection whose access token is guaranteed valid.
// Satisfied by *TokenManager.
type ConnectionSource interface {
	ValidConnection(ctx context.Context, connectionID string) (*models.Connection, error)
}

// RetryPolicy governs how Execute reacts to transient provider failures.
type RetryPolicy struct {
	// MaxAttempts caps the total attempts; zero means retry until the
	// context is done.
	MaxAttempts int

	// ServerErrorDelay is the wait before retrying a 5xx response.
	ServerErrorDelay time.Duration

	// DefaultRetryAfter is the wait after a 429 that carried no Retry-After
	// hint.
	DefaultRetryAfter time.Duration
}

// DefaultRetryPolicy matches the provider's published guidance: honor
// Retry-After on rate limits, back off a full minute when it is absent, and
// give server errors a short breather.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ServerErrorDelay:  5 * time.Second,
		DefaultRetryAfter: 60 * time.Second,
	}
}

// RequestFunc is one unit of provider API work, executed under a concurrency
// slot with a validated token.
type RequestFunc func(ctx context.Context, api *AuthorizedClient) error

// Client serializes provider API access through a bounded concurrency pool
// and retries transient failures. The slot is held only while a request is in
// flight: retry waits happen with the slot released so a throttled caller
// does not starve the rest of the process.
type Client struct {
	source     ConnectionSource
	httpClient *http.Client
	baseURL    string
	sem        *semaphore.Weighted
	retry      RetryPolicy
	logger     *zap.Logger
}

func NewClient(cfg *config.Config, source ConnectionSource, logger *zap.Logger) *Client {
	return &Client{
		source:     source,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    cfg.ProviderAPIBaseURL,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		retry:      DefaultRetryPolicy(),
		logger:     logger,
	}
}

// WithRetryPolicy overrides the retry behavior. Intended for callers with
// tighter latency budgets than the background sync default.
func (c *Client) WithRetryPolicy(policy RetryPolicy) *Client {
	c.retry = policy

	return c
}

// Execute runs fn under a concurrency slot with a validated token for the
// connection. Rate limits (429) and server errors (5xx) are retried after the
// appropriate wait; everything else fails fast. The token is re-validated on
// every attempt since a long Retry-After wait can outlive it.
func (c *Client) Execute(ctx context.Context, connectionID string, fn RequestFunc) error {
	for attempt := 1; ; attempt++ {
		if err := c.acquireSlot(ctx); err != nil {
			return err
		}

		err := func() error {
			defer c.sem.Release(1)

			return c.attempt(ctx, connectionID, fn)
		}()

		if err == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() {
			return err
		}

		if c.retry.MaxAttempts > 0 && attempt >= c.retry.MaxAttempts {
			return err
		}

		wait := c.retryDelay(apiErr)
		c.logger.Warn("provider request throttled, retrying",
			zap.String("connection_id", connectionID),
			zap.Int("status", apiErr.StatusCode),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt))

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// FetchPage fetches one page of a resource under the client's concurrency and
// retry discipline. This is the sync driver's entry point.
func (c *Client) FetchPage(ctx context.Context, connectionID string, resource models.ResourceType, q Query) (*ResourcePage, error) {
	var page *ResourcePage

	err := c.Execute(ctx, connectionID, func(ctx context.Context, api *AuthorizedClient) error {
		var err error
		page, err = api.FetchResource(ctx, resource, q)

		return err
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

func (c *Client) attempt(ctx context.Context, connectionID string, fn RequestFunc) error {
	conn, err := c.source.ValidConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	api := &AuthorizedClient{
		httpClient:  c.httpClient,
		baseURL:     c.baseURL,
		accessToken: conn.AccessToken,
		remoteOrgID: conn.RemoteOrgID,
	}

	return fn(ctx, api)
}

// acquireSlot takes a concurrency slot, polling with capped backoff while the
// pool is saturated.
func (c *Client) acquireSlot(ctx context.Context) error {
	if c.sem.TryAcquire(1) {
		return nil
	}

	wait := slotPollInitial

	for {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}

		if c.sem.TryAcquire(1) {
			return nil
		}

		wait *= 2
		if wait > slotPollMax {
			wait = slotPollMax
		}
	}
}

func (c *Client) retryDelay(apiErr *APIError) time.Duration {
	if apiErr.StatusCode == http.StatusTooManyRequests {
		if apiErr.RetryAfter > 0 {
			return apiErr.RetryAfter
		}

		return c.retry.DefaultRetryAfter
	}

	return c.retry.ServerErrorDelay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
