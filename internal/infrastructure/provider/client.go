// Package provider is the HTTP client of the remote ERP data API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/telemetry"
)

// errUnauthorized marks a 401 so FetchPage can refresh once
var errUnauthorized = errors.New("provider: unauthorized")

// Client implements integration.ProviderClient
type Client struct {
	config     Config
	httpClient *http.Client
	tokens     integration.AccessTokenSource
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
}

// NewClient creates a provider client. httpClient may be nil.
func NewClient(cfg Config, tokens integration.AccessTokenSource, httpClient *http.Client, metrics *telemetry.SyncMetrics, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		tokens:     tokens,
		metrics:    metrics,
		logger:     log,
	}, nil
}

// FetchPage fetches one page of a module. A 401 triggers exactly one forced
// token refresh; a second 401 is ErrAuthExpired.
func (c *Client) FetchPage(ctx context.Context, req integration.PageRequest) (*integration.Page, error) {
	endpoint, err := c.pageURL(req)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.GetValidAccessToken(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	body, err := c.getWithRetry(ctx, req.Module, endpoint, token)
	if errors.Is(err, errUnauthorized) {
		logger.For(ctx, c.logger).Warn("Provider rejected access token, forcing refresh",
			zap.String("module", string(req.Module)),
		)
		token, err = c.tokens.ForceRefresh(ctx, req.TenantID, token)
		if err != nil {
			return nil, err
		}
		body, err = c.getWithRetry(ctx, req.Module, endpoint, token)
		if errors.Is(err, errUnauthorized) {
			return nil, fmt.Errorf("%w: module %s rejected a refreshed token", integration.ErrAuthExpired, req.Module)
		}
	}
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, err
	}
	page.Body = body
	return page, nil
}

func (c *Client) pageURL(req integration.PageRequest) (string, error) {
	path, ok := c.config.ModulePaths[moduleKey(req.Module)]
	if !ok {
		return "", fmt.Errorf("%w: no api path for module %s", integration.ErrModuleConfig, req.Module)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = c.config.PageSize
	}

	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	if req.Window != nil {
		q.Set("start_date", req.Window.Start.Format(integration.DateLayout))
		q.Set("end_date", req.Window.End.Format(integration.DateLayout))
	}
	return c.config.BaseURL + path + "?" + q.Encode(), nil
}

// getWithRetry retries 429, 5xx and transport failures with exponential
// backoff. Retry-After is honoured up to BackoffMax.
func (c *Client) getWithRetry(ctx context.Context, module integration.ModuleID, endpoint, token string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BackoffInitial
	b.MaxInterval = c.config.BackoffMax

	var lastErr error
	body, err := backoff.Retry(ctx,
		func() ([]byte, error) {
			body, retryAfter, err := c.get(ctx, module, endpoint, token)
			if err == nil {
				return body, nil
			}
			lastErr = err
			if retryAfter > 0 {
				return nil, &backoff.RetryAfterError{Duration: min(retryAfter, c.config.BackoffMax)}
			}
			return nil, err
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.config.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.For(ctx, c.logger).Warn("Provider request failed, retrying",
				zap.String("module", string(module)),
				zap.Duration("next_attempt_in", next),
				zap.Error(lastErr),
			)
		}),
	)
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) {
			return nil, lastErr
		}
		return nil, err
	}
	return body, nil
}

// get performs one request. Non-retryable outcomes are wrapped with
// backoff.Permanent; retryAfter is set when the provider asked for a delay.
func (c *Client) get(ctx context.Context, module integration.ModuleID, endpoint, token string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("provider: failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, string(module), 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, 0, backoff.Permanent(ctx.Err())
		}
		return nil, 0, fmt.Errorf("%w: %v", integration.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordProviderRequest(ctx, string(module), resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to read response: %v", integration.ErrProviderUnavailable, err)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		return nil, 0, backoff.Permanent(errUnauthorized)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			fmt.Errorf("%w: HTTP %d", integration.ErrProviderUnavailable, code)
	case code >= http.StatusBadRequest:
		return nil, 0, backoff.Permanent(fmt.Errorf("%w: HTTP %d: %s",
			integration.ErrProviderRequestFailed, code, snippet(body)))
	}

	if int64(len(body)) > c.config.MaxResponseBytes {
		return nil, 0, backoff.Permanent(fmt.Errorf("%w: response exceeds %d bytes",
			integration.ErrProviderInvalidResponse, c.config.MaxResponseBytes))
	}
	return body, 0, nil
}

// parseRetryAfter accepts delta seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
