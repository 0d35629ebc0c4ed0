// Package history is the HTTP client for the build history API served
// by `exa serve`. The superseded-build check uses it to ask whether a
// newer build exists for the same pull request.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/rdmontgomery/exa/pkg/core"
)

// Client talks to a build history API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	backoff func() retry.Backoff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBackoff substitutes the retry policy. Tests use this to avoid
// real exponential waits.
func WithBackoff(factory func() retry.Backoff) Option {
	return func(c *Client) { c.backoff = factory }
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

type historyResponse struct {
	Builds []*core.Build `json:"builds"`
}

// History returns the most recent builds for a project, newest first.
func (c *Client) History(ctx context.Context, account, project string, records int) ([]*core.Build, error) {
	path := fmt.Sprintf("/api/projects/%s/%s/history?recordsNumber=%d",
		url.PathEscape(account), url.PathEscape(project), records)

	var out historyResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Builds, nil
}

// Build returns one build by its per-project number.
func (c *Client) Build(ctx context.Context, account, project string, number int64) (*core.Build, error) {
	path := fmt.Sprintf("/api/projects/%s/%s/builds/%d",
		url.PathEscape(account), url.PathEscape(project), number)

	var out core.Build
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs returns the jobs of one build.
func (c *Client) Jobs(ctx context.Context, account, project string, number int64) ([]*core.Job, error) {
	path := fmt.Sprintf("/api/projects/%s/%s/builds/%d/jobs",
		url.PathEscape(account), url.PathEscape(project), number)

	var out struct {
		Jobs []*core.Job `json:"jobs"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Cancel asks the server to cancel a queued or running build.
func (c *Client) Cancel(ctx context.Context, account, project string, number int64) error {
	path := fmt.Sprintf("/api/projects/%s/%s/builds/%d",
		url.PathEscape(account), url.PathEscape(project), number)
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

// do performs one API request with retries. Connection errors and 5xx
// responses retry; anything else fails immediately.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	target := c.baseURL + path

	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("history request failed, will retry", "method", method, "url", target, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.logger.Debug("history request returned server error, will retry", "method", method, "url", target, "status", resp.StatusCode)
			io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(fmt.Errorf("%s %s: server returned %s", method, path, resp.Status))
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: not found", method, path)
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
		return nil
	})
}
